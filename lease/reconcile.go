package lease

// Criteria narrowing the set of reconciled records. Empty values disable
// the respective filter.
type Filter struct {
	// Interface label (as shown by the UI) the records must belong to.
	Interface string
	// Hostname excluded from the reconciliation, e.g. the router itself.
	ExcludeHostname string
}

// Kind of the event noticed while reconciling the leases.
type DiagnosticKind int

const (
	// More than one record shares the same hostname.
	DiagnosticDuplicateHostname DiagnosticKind = iota
	// More than one dynamic lease for the hostname. The one expiring
	// later is kept.
	DiagnosticMultipleDynamic
	// More than one static lease for the hostname. The last one is kept.
	DiagnosticMultipleStatic
	// A static lease exists for the hostname so its dynamic lease is not
	// promoted.
	DiagnosticStaticExists
	// The dynamic lease was selected among the duplicates.
	DiagnosticChosen
	// No record survived the conflict resolution. It indicates the
	// inconsistent input data.
	DiagnosticNoSurvivor
)

// Returns the diagnostic kind name.
func (k DiagnosticKind) String() string {
	switch k {
	case DiagnosticDuplicateHostname:
		return "duplicate_hostname"
	case DiagnosticMultipleDynamic:
		return "multiple_dynamic"
	case DiagnosticMultipleStatic:
		return "multiple_static"
	case DiagnosticStaticExists:
		return "static_exists"
	case DiagnosticChosen:
		return "chosen"
	case DiagnosticNoSurvivor:
		return "no_survivor"
	default:
		return "unknown"
	}
}

// Event noticed during the reconciliation. The reconciler does not log;
// the caller decides how to surface the diagnostics.
type Diagnostic struct {
	Kind     DiagnosticKind
	Hostname string
	// Number of records in the hostname group.
	Count int
	// Record remaining after the conflict was resolved. Zero value if
	// not applicable.
	Kept Record
	// Record dropped while resolving the conflict. Zero value if not
	// applicable.
	Discarded Record
}

// Reconciliation outcome.
type Result struct {
	Candidates  []Candidate
	Diagnostics []Diagnostic
}

// Reconciles the lease records into the list of dynamic leases that
// should be promoted to static mappings. The records are filtered by the
// excluded hostname and the interface label, grouped by hostname and each
// group is resolved into at most one surviving record. The candidates
// preserve the relative order of the input records and no two of them
// share a hostname. The input slice is not modified.
func Reconcile(records []Record, filter Filter) *Result {
	result := &Result{
		Candidates: []Candidate{},
	}

	var filtered []Record
	for _, record := range records {
		if filter.ExcludeHostname != "" && record.Hostname == filter.ExcludeHostname {
			continue
		}
		if filter.Interface != "" && record.InterfaceLabel != filter.Interface {
			continue
		}
		filtered = append(filtered, record)
	}

	// Group the record indexes by hostname keeping the order of the first
	// occurrence so the diagnostics are reported deterministically.
	groups := make(map[string][]int)
	var hostnames []string
	for i, record := range filtered {
		if _, ok := groups[record.Hostname]; !ok {
			hostnames = append(hostnames, record.Hostname)
		}
		groups[record.Hostname] = append(groups[record.Hostname], i)
	}

	survives := make([]bool, len(filtered))
	for _, hostname := range hostnames {
		group := groups[hostname]
		if len(group) == 1 {
			survives[group[0]] = true
			continue
		}
		if survivor, ok := resolveGroup(filtered, group, &result.Diagnostics); ok {
			survives[survivor] = true
		}
	}

	for i, record := range filtered {
		if survives[i] && record.IsDynamic() {
			result.Candidates = append(result.Candidates, newCandidate(record))
		}
	}
	return result
}

// Resolves the conflict between the records sharing the same hostname.
// Returns the index of the dynamic record to be promoted and true, or
// false if there is nothing to promote.
func resolveGroup(records []Record, group []int, diagnostics *[]Diagnostic) (int, bool) {
	hostname := records[group[0]].Hostname
	*diagnostics = append(*diagnostics, Diagnostic{
		Kind:     DiagnosticDuplicateHostname,
		Hostname: hostname,
		Count:    len(group),
	})

	dynamicIndex, staticIndex := -1, -1
	for _, i := range group {
		record := records[i]
		switch {
		case record.IsDynamic():
			if dynamicIndex < 0 {
				dynamicIndex = i
				continue
			}
			kept, discarded := dynamicIndex, i
			if record.EndsAfter(records[dynamicIndex]) {
				kept, discarded = i, dynamicIndex
			}
			*diagnostics = append(*diagnostics, Diagnostic{
				Kind:      DiagnosticMultipleDynamic,
				Hostname:  hostname,
				Count:     len(group),
				Kept:      records[kept],
				Discarded: records[discarded],
			})
			dynamicIndex = kept
		case record.IsStatic():
			if staticIndex >= 0 {
				*diagnostics = append(*diagnostics, Diagnostic{
					Kind:      DiagnosticMultipleStatic,
					Hostname:  hostname,
					Count:     len(group),
					Kept:      record,
					Discarded: records[staticIndex],
				})
			}
			staticIndex = i
		}
	}

	switch {
	case dynamicIndex >= 0 && staticIndex >= 0:
		*diagnostics = append(*diagnostics, Diagnostic{
			Kind:      DiagnosticStaticExists,
			Hostname:  hostname,
			Count:     len(group),
			Kept:      records[staticIndex],
			Discarded: records[dynamicIndex],
		})
		return 0, false
	case staticIndex >= 0:
		return 0, false
	case dynamicIndex >= 0:
		*diagnostics = append(*diagnostics, Diagnostic{
			Kind:     DiagnosticChosen,
			Hostname: hostname,
			Count:    len(group),
			Kept:     records[dynamicIndex],
		})
		return dynamicIndex, true
	default:
		*diagnostics = append(*diagnostics, Diagnostic{
			Kind:     DiagnosticNoSurvivor,
			Hostname: hostname,
			Count:    len(group),
		})
		return 0, false
	}
}
