package guard

// Treatment says how admission control handles an operation.
type Treatment int

const (
	// RateLimited operations go through the limiters. It is the default.
	RateLimited Treatment = iota
	// Exempt operations are always admitted and consume no tokens.
	Exempt
)

// Table maps operation identifiers to their treatment. Build it once at startup;
// it is read-only afterwards. gRPC operations are full method names such as
// "/grpc.health.v1.Health/Check"; HTTP operations are "METHOD /path".
type Table struct {
	entries map[string]Treatment
}

// NewTable creates a table in which the given operations are exempt.
func NewTable(exempt ...string) *Table {
	t := &Table{entries: make(map[string]Treatment, len(exempt))}
	for _, op := range exempt {
		t.entries[op] = Exempt
	}
	return t
}

// Treatment returns how op is handled.
func (t *Table) Treatment(op string) Treatment {
	if t == nil {
		return RateLimited
	}
	if treatment, ok := t.entries[op]; ok {
		return treatment
	}
	return RateLimited
}
