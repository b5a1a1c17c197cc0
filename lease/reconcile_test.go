package lease

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// Returns a pointer to the time given as epoch seconds.
func epoch(seconds int64) *time.Time {
	t := time.Unix(seconds, 0).UTC()
	return &t
}

// Creates a dynamic lease record on the LAN interface.
func dynamicRecord(ip, mac, hostname string, end *time.Time) Record {
	return Record{
		IPAddress:      ip,
		MACAddress:     mac,
		Hostname:       hostname,
		Description:    "desc-" + hostname,
		InterfaceLabel: "LAN",
		InterfaceID:    "lan",
		Type:           TypeDynamic,
		EndTime:        end,
	}
}

// Creates a static lease record on the LAN interface.
func staticRecord(ip, mac, hostname string) Record {
	return Record{
		IPAddress:      ip,
		MACAddress:     mac,
		Hostname:       hostname,
		InterfaceLabel: "LAN",
		InterfaceID:    "lan",
		Type:           TypeStatic,
	}
}

// Returns the diagnostics of the given kind.
func diagnosticsOfKind(result *Result, kind DiagnosticKind) []Diagnostic {
	var diagnostics []Diagnostic
	for _, d := range result.Diagnostics {
		if d.Kind == kind {
			diagnostics = append(diagnostics, d)
		}
	}
	return diagnostics
}

// Test that an empty input yields no candidates and no diagnostics.
func TestReconcileEmpty(t *testing.T) {
	// Act
	result := Reconcile(nil, Filter{})

	// Assert
	require.NotNil(t, result)
	require.Empty(t, result.Candidates)
	require.Empty(t, result.Diagnostics)
}

// Test that a dynamic lease coexisting with a static lease for the same
// hostname is not promoted.
func TestReconcileStaticSupersedesDynamic(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.5", "AA:BB", "foo", epoch(100)),
		staticRecord("10.0.0.5", "AA:BB", "foo"),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Empty(t, result.Candidates)
	existing := diagnosticsOfKind(result, DiagnosticStaticExists)
	require.Len(t, existing, 1)
	require.Equal(t, "foo", existing[0].Hostname)
	require.Equal(t, TypeStatic, existing[0].Kept.Type)
	require.Equal(t, TypeDynamic, existing[0].Discarded.Type)
}

// Test that out of two dynamic leases the one expiring later is selected.
func TestReconcileMultipleDynamicLatestWins(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(50)),
		dynamicRecord("10.0.0.7", "AA:02", "bar", epoch(200)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "10.0.0.7", result.Candidates[0].IPAddress)
	multiple := diagnosticsOfKind(result, DiagnosticMultipleDynamic)
	require.Len(t, multiple, 1)
	require.Equal(t, "10.0.0.7", multiple[0].Kept.IPAddress)
	require.Equal(t, "10.0.0.6", multiple[0].Discarded.IPAddress)
	require.Len(t, diagnosticsOfKind(result, DiagnosticChosen), 1)
}

// Test that the earlier dynamic lease is kept when the later one expires
// before it.
func TestReconcileMultipleDynamicEarlierRecordExpiresLater(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.7", "AA:02", "bar", epoch(200)),
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(50)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "10.0.0.7", result.Candidates[0].IPAddress)
}

// Test that the first dynamic lease wins when the end times are equal.
func TestReconcileMultipleDynamicTieKeepsFirst(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(100)),
		dynamicRecord("10.0.0.7", "AA:02", "bar", epoch(100)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "10.0.0.6", result.Candidates[0].IPAddress)
}

// Test that a missing end time is considered earlier than any present one.
func TestReconcileMultipleDynamicMissingEndTime(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(1)),
		dynamicRecord("10.0.0.7", "AA:02", "bar", nil),
		dynamicRecord("10.0.0.8", "AA:03", "baz", nil),
		dynamicRecord("10.0.0.9", "AA:04", "baz", epoch(1)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	expected := []Candidate{
		newCandidate(records[0]),
		newCandidate(records[3]),
	}
	require.Empty(t, cmp.Diff(expected, result.Candidates))
}

// Test that two static leases produce no candidates and the later one is
// retained.
func TestReconcileMultipleStatic(t *testing.T) {
	// Arrange
	records := []Record{
		staticRecord("10.0.0.10", "AA:10", "qux"),
		staticRecord("10.0.0.11", "AA:11", "qux"),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Empty(t, result.Candidates)
	multiple := diagnosticsOfKind(result, DiagnosticMultipleStatic)
	require.Len(t, multiple, 1)
	require.Equal(t, "10.0.0.11", multiple[0].Kept.IPAddress)
	require.Equal(t, "10.0.0.10", multiple[0].Discarded.IPAddress)
	require.Empty(t, diagnosticsOfKind(result, DiagnosticNoSurvivor))
}

// Test that a singleton dynamic lease passes through with the interface
// identifier in place of the label.
func TestReconcileSingletonDynamic(t *testing.T) {
	// Arrange
	records := []Record{
		{
			IPAddress:      "192.0.2.1",
			MACAddress:     "00:11:22:33:44:55",
			Hostname:       "printer",
			Description:    "office printer",
			InterfaceLabel: "LAN",
			InterfaceID:    "opt1",
			Type:           TypeDynamic,
			EndTime:        epoch(1000),
		},
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	expected := []Candidate{{
		IPAddress:   "192.0.2.1",
		MACAddress:  "00:11:22:33:44:55",
		Hostname:    "printer",
		Description: "office printer",
		InterfaceID: "opt1",
	}}
	require.Empty(t, cmp.Diff(expected, result.Candidates))
	require.Empty(t, result.Diagnostics)
}

// Test that a singleton static lease is not a candidate.
func TestReconcileSingletonStatic(t *testing.T) {
	// Act
	result := Reconcile([]Record{staticRecord("192.0.2.2", "AA", "nas")}, Filter{})

	// Assert
	require.Empty(t, result.Candidates)
}

// Test that the interface filter matching no records yields no candidates
// regardless of the conflicts in the unfiltered set.
func TestReconcileInterfaceFilterMatchesNothing(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(50)),
		dynamicRecord("10.0.0.7", "AA:02", "bar", epoch(200)),
		staticRecord("10.0.0.7", "AA:02", "foo"),
		dynamicRecord("10.0.0.8", "AA:03", "solo", epoch(1)),
	}

	// Act
	result := Reconcile(records, Filter{Interface: "GUEST"})

	// Assert
	require.Empty(t, result.Candidates)
	require.Empty(t, result.Diagnostics)
}

// Test that hostname conflicts are judged only within the filtered
// interface.
func TestReconcileInterfaceFilterBeforeGrouping(t *testing.T) {
	// Arrange
	guestStatic := staticRecord("172.16.0.5", "AA:05", "foo")
	guestStatic.InterfaceLabel = "GUEST"
	guestStatic.InterfaceID = "opt2"
	records := []Record{
		dynamicRecord("10.0.0.5", "AA:05", "foo", epoch(100)),
		guestStatic,
	}

	// Act
	lanResult := Reconcile(records, Filter{Interface: "LAN"})
	guestResult := Reconcile(records, Filter{Interface: "GUEST"})
	allResult := Reconcile(records, Filter{})

	// Assert
	require.Len(t, lanResult.Candidates, 1)
	require.Equal(t, "lan", lanResult.Candidates[0].InterfaceID)
	require.Empty(t, guestResult.Candidates)
	require.Empty(t, allResult.Candidates)
}

// Test that the excluded hostname is dropped before the grouping.
func TestReconcileExcludeHostname(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.1", "AA:01", "router", epoch(100)),
		dynamicRecord("10.0.0.2", "AA:02", "laptop", epoch(100)),
		dynamicRecord("10.0.0.3", "AA:03", "Router", epoch(100)),
	}

	// Act
	result := Reconcile(records, Filter{ExcludeHostname: "router"})

	// Assert
	expected := []Candidate{
		newCandidate(records[1]),
		newCandidate(records[2]),
	}
	require.Empty(t, cmp.Diff(expected, result.Candidates))
}

// Test that the group with records of unknown type is reported as
// inconsistent and produces no candidates while other hostnames are
// still processed.
func TestReconcileNoSurvivor(t *testing.T) {
	// Arrange
	records := []Record{
		{Hostname: "ghost", IPAddress: "10.0.0.1"},
		{Hostname: "ghost", IPAddress: "10.0.0.2"},
		dynamicRecord("10.0.0.3", "AA:03", "alive", epoch(1)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	require.Len(t, result.Candidates, 1)
	require.Equal(t, "alive", result.Candidates[0].Hostname)
	noSurvivor := diagnosticsOfKind(result, DiagnosticNoSurvivor)
	require.Len(t, noSurvivor, 1)
	require.Equal(t, "ghost", noSurvivor[0].Hostname)
	require.Equal(t, 2, noSurvivor[0].Count)
}

// Test that the candidates preserve the relative order of the input.
func TestReconcilePreservesOrder(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.1", "AA:01", "c", epoch(1)),
		dynamicRecord("10.0.0.2", "AA:02", "a", epoch(1)),
		dynamicRecord("10.0.0.3", "AA:03", "c", epoch(5)),
		dynamicRecord("10.0.0.4", "AA:04", "b", epoch(1)),
	}

	// Act
	result := Reconcile(records, Filter{})

	// Assert
	expected := []Candidate{
		newCandidate(records[1]),
		newCandidate(records[2]),
		newCandidate(records[3]),
	}
	require.Empty(t, cmp.Diff(expected, result.Candidates))
}

// Test that the input slice is not modified.
func TestReconcileDoesNotModifyInput(t *testing.T) {
	// Arrange
	records := []Record{
		dynamicRecord("10.0.0.6", "AA:01", "bar", epoch(50)),
		staticRecord("10.0.0.7", "AA:02", "bar"),
		dynamicRecord("10.0.0.8", "AA:03", "bar", epoch(200)),
	}
	copied := append([]Record{}, records...)

	// Act
	_ = Reconcile(records, Filter{ExcludeHostname: "bar"})
	_ = Reconcile(records, Filter{})

	// Assert
	require.Equal(t, copied, records)
}

// Generates random records with colliding hostnames.
func randomRecords(rng *rand.Rand, count int) []Record {
	labels := []string{"LAN", "GUEST"}
	var records []Record
	for i := 0; i < count; i++ {
		record := Record{
			IPAddress:      fmt.Sprintf("10.0.%d.%d", rng.Intn(3), rng.Intn(250)),
			MACAddress:     fmt.Sprintf("AA:%02X", rng.Intn(20)),
			Hostname:       fmt.Sprintf("host-%d", rng.Intn(6)),
			InterfaceLabel: labels[rng.Intn(len(labels))],
			InterfaceID:    "if",
			Type:           TypeStatic,
		}
		if rng.Intn(3) > 0 {
			record.Type = TypeDynamic
			if rng.Intn(4) > 0 {
				record.EndTime = epoch(int64(rng.Intn(10)))
			}
		}
		records = append(records, record)
	}
	return records
}

// Test that no two candidates share a hostname for randomized inputs.
func TestReconcileUniqueHostnames(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		records := randomRecords(rng, rng.Intn(20))
		for _, filter := range []Filter{{}, {Interface: "LAN"}, {ExcludeHostname: "host-1"}} {
			result := Reconcile(records, filter)
			seen := make(map[string]bool)
			for _, candidate := range result.Candidates {
				require.False(t, seen[candidate.Hostname], "duplicate hostname %s", candidate.Hostname)
				seen[candidate.Hostname] = true
			}
		}
	}
}

// Test that the exclusion filter is equivalent to removing the matching
// records upfront.
func TestReconcileExclusionEquivalence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		records := randomRecords(rng, rng.Intn(20))
		var remaining []Record
		for _, record := range records {
			if record.Hostname != "host-2" {
				remaining = append(remaining, record)
			}
		}

		excluded := Reconcile(records, Filter{ExcludeHostname: "host-2"})
		removed := Reconcile(remaining, Filter{})

		require.Empty(t, cmp.Diff(removed.Candidates, excluded.Candidates))
	}
}

// Test that reconciling the reconciler's own output returns it unchanged.
func TestReconcileIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	for i := 0; i < 500; i++ {
		first := Reconcile(randomRecords(rng, rng.Intn(20)), Filter{})

		var records []Record
		for _, candidate := range first.Candidates {
			records = append(records, Record{
				IPAddress:   candidate.IPAddress,
				MACAddress:  candidate.MACAddress,
				Hostname:    candidate.Hostname,
				Description: candidate.Description,
				InterfaceID: candidate.InterfaceID,
				Type:        TypeDynamic,
			})
		}
		second := Reconcile(records, Filter{})

		require.Empty(t, cmp.Diff(first.Candidates, second.Candidates))
		require.Empty(t, second.Diagnostics)
	}
}

// Test the diagnostic kind names.
func TestDiagnosticKindString(t *testing.T) {
	require.Equal(t, "duplicate_hostname", DiagnosticDuplicateHostname.String())
	require.Equal(t, "multiple_dynamic", DiagnosticMultipleDynamic.String())
	require.Equal(t, "multiple_static", DiagnosticMultipleStatic.String())
	require.Equal(t, "static_exists", DiagnosticStaticExists.String())
	require.Equal(t, "chosen", DiagnosticChosen.String())
	require.Equal(t, "no_survivor", DiagnosticNoSurvivor.String())
	require.Equal(t, "unknown", DiagnosticKind(100).String())
}
