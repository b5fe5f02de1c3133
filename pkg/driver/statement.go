package driver

// TypeInfo describes a database type as reported by a driver.
type TypeInfo interface {
	// Name returns the database-level name of the type (e.g. "INTEGER", "TEXT").
	Name() string
}

// Column describes a single result column of a prepared statement.
type Column interface {
	// Name returns the column name or alias.
	Name() string

	// TypeInfo returns the column's declared type, or nil if the driver
	// cannot determine it.
	TypeInfo() TypeInfo
}

// Nullability is a tri-state answer to "may this column be NULL?". Not every
// driver can answer for every column.
type Nullability int

const (
	NullabilityUnknown Nullability = iota
	NotNullable
	Nullable
)

// StatementInfo provides metadata for a prepared statement: its result
// columns, its bind parameters, and per-column nullability. It is a passive
// value produced by a driver's describe step and consumed by query layers
// built on top of a checked-out connection.
type StatementInfo struct {
	columns    []Column
	nullable   []Nullability
	paramTypes []TypeInfo
	paramCount int
	hasParams  bool
}

// NewStatementInfo builds a descriptor for the given result columns.
// nullable may be nil or shorter than columns; missing entries are treated as
// NullabilityUnknown.
func NewStatementInfo(columns []Column, nullable []Nullability) *StatementInfo {
	return &StatementInfo{columns: columns, nullable: nullable}
}

// SetParameterTypes records full per-parameter type information. Drivers that
// know each parameter's type (e.g. PostgreSQL) use this form.
func (si *StatementInfo) SetParameterTypes(types []TypeInfo) {
	si.paramTypes = types
	si.paramCount = len(types)
	si.hasParams = true
}

// SetParameterCount records only the number of bind parameters. Drivers that
// cannot type parameters (e.g. SQLite) use this form.
func (si *StatementInfo) SetParameterCount(n int) {
	si.paramTypes = nil
	si.paramCount = n
	si.hasParams = true
}

// Column returns the column at index. It panics if index is out of bounds.
func (si *StatementInfo) Column(index int) Column {
	return si.columns[index]
}

// TryColumn returns the column at index, or false if index is out of bounds.
func (si *StatementInfo) TryColumn(index int) (Column, bool) {
	if index < 0 || index >= len(si.columns) {
		return nil, false
	}
	return si.columns[index], true
}

// Columns returns all result columns in order.
func (si *StatementInfo) Columns() []Column {
	return si.columns
}

// Parameters reports what the driver knows about bind parameters. When the
// driver provided full type information, types is non-nil and count equals
// len(types). When only a count is available, types is nil. ok is false when
// the driver reported nothing at all.
func (si *StatementInfo) Parameters() (types []TypeInfo, count int, ok bool) {
	if !si.hasParams {
		return nil, 0, false
	}
	return si.paramTypes, si.paramCount, true
}

// Nullable reports whether the column at index may be NULL. known is false
// when the driver has no nullability information for that column or the index
// is out of bounds.
func (si *StatementInfo) Nullable(index int) (nullable bool, known bool) {
	if index < 0 || index >= len(si.nullable) {
		return false, false
	}
	switch si.nullable[index] {
	case Nullable:
		return true, true
	case NotNullable:
		return false, true
	default:
		return false, false
	}
}
