package domain

// MappingEntry pairs a legacy free-text label with its coded concept id.
type MappingEntry struct {
	LegacyLabel string
	CodedID     int
}

// Mapping is the resolved legacy label -> concept id table for one governed
// column.
type Mapping map[string]int

func (m Mapping) Lookup(label string) (int, bool) {
	id, ok := m[label]
	return id, ok
}

// Entries returns the mapping as a slice; order is unspecified.
func (m Mapping) Entries() []MappingEntry {
	out := make([]MappingEntry, 0, len(m))
	for label, id := range m {
		out = append(out, MappingEntry{LegacyLabel: label, CodedID: id})
	}
	return out
}

// CodedFrequency is a row of order_frequency.
type CodedFrequency struct {
	ID        int64
	ConceptID int
	Name      string
	UUID      string
}

// Drug is the subset of the drug table touched by the strength synthesis.
type Drug struct {
	DrugID       int64
	DoseStrength *float64
	Units        *string
	Strength     *string
}
