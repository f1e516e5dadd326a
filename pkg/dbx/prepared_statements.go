package dbx

// PreparedStatement - a named query prepared on every connection the driver opens.
//
// Once prepared, the Name can be passed as the sql of any driver call in
// place of the query text.
type PreparedStatement struct {
	Name  string
	Query string
}

// NewPreparedStatement - PreparedStatement constructor.
func NewPreparedStatement(name, query string) PreparedStatement {
	return PreparedStatement{Name: name, Query: query}
}

func (p PreparedStatement) GetName() string {
	return p.Name
}

func (p PreparedStatement) GetQuery() string {
	return p.Query
}
