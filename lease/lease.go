package lease

import (
	"time"

	"github.com/pkg/errors"
)

// Lease type as reported by the router's lease table.
type Type int

// Closed set of lease types. The zero value is deliberately not a valid
// type so that an uninitialized record is never taken for a dynamic one.
const (
	TypeStatic Type = iota + 1
	TypeDynamic
)

// Textual lease types used by the lease-search API.
const (
	typeStaticName  = "static"
	typeDynamicName = "dynamic"
)

// Error returned when the lease type string received from the router
// is neither "static" nor "dynamic".
type InvalidTypeError struct {
	Value string
}

// Returns the error text.
func (e *InvalidTypeError) Error() string {
	return "unrecognized lease type: '" + e.Value + "'"
}

// Converts the lease type received from the router into the enum.
func ParseType(value string) (Type, error) {
	switch value {
	case typeStaticName:
		return TypeStatic, nil
	case typeDynamicName:
		return TypeDynamic, nil
	default:
		return 0, errors.WithStack(&InvalidTypeError{Value: value})
	}
}

// Returns the lease type name as used by the router.
func (t Type) String() string {
	switch t {
	case TypeStatic:
		return typeStaticName
	case TypeDynamic:
		return typeDynamicName
	default:
		return "unknown"
	}
}

// Single row of the router's lease table.
type Record struct {
	IPAddress   string
	MACAddress  string
	Hostname    string
	Description string
	// Interface description shown by the UI, e.g. "LAN". Used for filtering.
	InterfaceLabel string
	// Internal interface identifier, e.g. "lan". Required by the edit forms.
	InterfaceID string
	Type        Type
	// Lease expiration. Nil for leases without an end time, typically the
	// static ones.
	EndTime *time.Time
}

// Indicates if the record is a dynamic lease.
func (r Record) IsDynamic() bool {
	return r.Type == TypeDynamic
}

// Indicates if the record is a static lease.
func (r Record) IsStatic() bool {
	return r.Type == TypeStatic
}

// Checks if the record expires strictly later than the other one. A record
// without an end time is considered earlier than any record having one.
func (r Record) EndsAfter(other Record) bool {
	switch {
	case r.EndTime == nil:
		return false
	case other.EndTime == nil:
		return true
	default:
		return r.EndTime.After(*other.EndTime)
	}
}

// Dynamic lease selected for the promotion to a static mapping.
type Candidate struct {
	IPAddress   string
	MACAddress  string
	Hostname    string
	Description string
	InterfaceID string
}

// Converts the record into a promotion candidate.
func newCandidate(r Record) Candidate {
	return Candidate{
		IPAddress:   r.IPAddress,
		MACAddress:  r.MACAddress,
		Hostname:    r.Hostname,
		Description: r.Description,
		InterfaceID: r.InterfaceID,
	}
}
