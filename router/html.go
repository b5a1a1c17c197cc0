package router

import (
	"net"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Anti-forgery token embedded in the router forms as a hidden input.
type CSRFToken struct {
	Name  string
	Value string
}

// Primary and secondary server configured for the DHCP interface.
type Servers struct {
	Primary   string
	Secondary string
}

// Static DHCP mapping listed on the interface page.
type StaticMapping struct {
	MACAddress  string
	IPAddress   string
	Hostname    string
	Description string
}

// Parses the HTML document.
func parseHTML(body string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse the HTML page")
	}
	return doc, nil
}

// Calls the visitor for every element node in document order. The walk
// stops when the visitor returns false.
func walkElements(node *html.Node, visit func(*html.Node) bool) bool {
	if node.Type == html.ElementNode && !visit(node) {
		return false
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if !walkElements(child, visit) {
			return false
		}
	}
	return true
}

// Returns the attribute value and a flag indicating if it is present.
func attribute(node *html.Node, key string) (string, bool) {
	for _, attr := range node.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}

// Returns the concatenated text of the node and its descendants with
// collapsed whitespace.
func textContent(node *html.Node) string {
	var builder strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			builder.WriteString(n.Data)
			builder.WriteString(" ")
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			collect(child)
		}
	}
	collect(node)
	return strings.Join(strings.Fields(builder.String()), " ")
}

// Finds the first input element with the given name.
func findInput(doc *html.Node, name string) *html.Node {
	var found *html.Node
	walkElements(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Input {
			return true
		}
		if inputName, _ := attribute(n, "name"); inputName == name {
			found = n
			return false
		}
		return true
	})
	return found
}

// Extracts the CSRF token from the first hidden input of the page. The
// input must carry both the name and the value.
func ExtractCSRFToken(body string) (*CSRFToken, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	return extractCSRFToken(doc)
}

func extractCSRFToken(doc *html.Node) (*CSRFToken, error) {
	var hidden *html.Node
	walkElements(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Input {
			return true
		}
		if inputType, _ := attribute(n, "type"); strings.EqualFold(inputType, "hidden") {
			hidden = n
			return false
		}
		return true
	})
	if hidden == nil {
		return nil, errors.WithStack(&ExtractionError{Element: "CSRF token input"})
	}

	name, _ := attribute(hidden, "name")
	value, _ := attribute(hidden, "value")
	if name == "" || value == "" {
		return nil, errors.WithStack(&ExtractionError{Element: "CSRF token name and value"})
	}
	return &CSRFToken{Name: name, Value: value}, nil
}

// Extracts the primary and secondary server from the inputs having the
// given prefix followed by 1 and 2, e.g. ntp1 and ntp2. The first input
// is required.
func extractServers(doc *html.Node, prefix string) (*Servers, error) {
	primary := findInput(doc, prefix+"1")
	if primary == nil {
		return nil, errors.WithStack(&ExtractionError{Element: prefix + "1 input"})
	}
	servers := &Servers{}
	servers.Primary, _ = attribute(primary, "value")
	if secondary := findInput(doc, prefix+"2"); secondary != nil {
		servers.Secondary, _ = attribute(secondary, "value")
	}
	return servers, nil
}

// Extracts the NTP servers configured for the DHCP interface.
func ExtractNTPServers(body string) (*Servers, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	return extractServers(doc, "ntp")
}

// Extracts the DNS servers configured for the DHCP interface.
func ExtractDNSServers(body string) (*Servers, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	return extractServers(doc, "dns")
}

// Extracts the static mapping table. A table row is recognized as a
// mapping when one of its cells holds a MAC address followed by the IP
// address, hostname and description cells.
func ExtractStaticMappings(body string) ([]StaticMapping, error) {
	doc, err := parseHTML(body)
	if err != nil {
		return nil, err
	}
	return extractStaticMappings(doc), nil
}

func extractStaticMappings(doc *html.Node) []StaticMapping {
	mappings := []StaticMapping{}
	walkElements(doc, func(n *html.Node) bool {
		if n.DataAtom != atom.Tr {
			return true
		}
		var cells []string
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.DataAtom == atom.Td {
				cells = append(cells, textContent(child))
			}
		}
		if mapping, ok := parseMappingCells(cells); ok {
			mappings = append(mappings, mapping)
		}
		return true
	})
	return mappings
}

// Recognizes the static mapping among the row cells.
func parseMappingCells(cells []string) (StaticMapping, bool) {
	for i := 0; i+2 < len(cells); i++ {
		if _, err := net.ParseMAC(cells[i]); err != nil {
			continue
		}
		if net.ParseIP(cells[i+1]) == nil {
			return StaticMapping{}, false
		}
		mapping := StaticMapping{
			MACAddress: cells[i],
			IPAddress:  cells[i+1],
			Hostname:   cells[i+2],
		}
		if i+3 < len(cells) {
			mapping.Description = cells[i+3]
		}
		return mapping, true
	}
	return StaticMapping{}, false
}
