package dto

// ImportResult reports how a roster file was applied.
type ImportResult struct {
	Imported int            `json:"imported"`
	Skipped  int            `json:"skipped"`
	Rows     []ImportRowLog `json:"rows,omitempty"`
}

// ImportRowLog explains why a row was skipped. Row numbers are 1-based and
// count the header.
type ImportRowLog struct {
	Row    int    `json:"row"`
	NISN   string `json:"nisn,omitempty"`
	Reason string `json:"reason"`
}
