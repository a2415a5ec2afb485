package schema

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Column describes one table column.
type Column struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
}

// Table describes one warehouse table.
type Table struct {
	// Name is schema-qualified, e.g. gold.distribucion_cartera.
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Columns     []Column `yaml:"columns"`
	// Concepts are lower-case phrases that select the table when they
	// appear in a question.
	Concepts []string `yaml:"concepts,omitempty"`
	// Values lists example values of filterable text columns.
	Values map[string][]string `yaml:"values,omitempty"`
}

// Catalog is the set of tables requests may resolve against.
type Catalog struct {
	Tables []Table `yaml:"tables"`
	// Default tables when no concept matches.
	Default []string `yaml:"default,omitempty"`

	byName map[string]int
}

// LoadCatalog reads a YAML catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.index(); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewCatalog builds a catalog from tables.
func NewCatalog(tables ...Table) (*Catalog, error) {
	c := &Catalog{Tables: tables}
	if err := c.index(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) index() error {
	c.byName = make(map[string]int, len(c.Tables))
	for i, t := range c.Tables {
		name := strings.ToLower(strings.TrimSpace(t.Name))
		if name == "" {
			return fmt.Errorf("catalog table %d has no name", i)
		}
		if !strings.Contains(name, ".") {
			return fmt.Errorf("catalog table %q must be schema-qualified", t.Name)
		}
		if _, dup := c.byName[name]; dup {
			return fmt.Errorf("catalog table %q declared twice", t.Name)
		}
		c.byName[name] = i
		for j, concept := range t.Concepts {
			c.Tables[i].Concepts[j] = strings.ToLower(strings.TrimSpace(concept))
		}
	}
	for _, d := range c.Default {
		if _, ok := c.byName[strings.ToLower(d)]; !ok {
			return fmt.Errorf("default table %q is not in the catalog", d)
		}
	}
	return nil
}

// Get returns a table by name, case-insensitively.
func (c *Catalog) Get(name string) (Table, bool) {
	i, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Table{}, false
	}
	return c.Tables[i], true
}

// Names returns the table names in catalog order.
func (c *Catalog) Names() []string {
	names := make([]string, len(c.Tables))
	for i, t := range c.Tables {
		names[i] = t.Name
	}
	return names
}

// KnownTables returns the lower-case names the validator accepts.
func (c *Catalog) KnownTables() []string {
	names := make([]string, 0, len(c.byName))
	for name := range c.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// MatchConcepts returns the tables whose concepts appear in question, in
// catalog order.
func (c *Catalog) MatchConcepts(question string) []string {
	q := strings.ToLower(question)
	var out []string
	for _, t := range c.Tables {
		for _, concept := range t.Concepts {
			if concept != "" && strings.Contains(q, concept) {
				out = append(out, t.Name)
				break
			}
		}
	}
	return out
}

// Describe renders a table as schema context text.
func (t Table) Describe() string {
	var b strings.Builder
	b.WriteString(t.Name)
	if t.Description != "" {
		b.WriteString(": ")
		b.WriteString(t.Description)
	}
	b.WriteByte('\n')
	for _, col := range t.Columns {
		fmt.Fprintf(&b, "  - %s (%s)", col.Name, col.Type)
		if col.Description != "" {
			b.WriteString(": ")
			b.WriteString(col.Description)
		}
		if vals := t.Values[col.Name]; len(vals) > 0 {
			fmt.Fprintf(&b, " [values: %s]", strings.Join(vals, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// embeddingText is the text a table is embedded from.
func (t Table) embeddingText() string {
	cols := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		cols[i] = col.Name
	}
	parts := []string{
		"Table: " + t.Name,
		"Description: " + t.Description,
		"Columns: " + strings.Join(cols, ", "),
	}
	if len(t.Concepts) > 0 {
		parts = append(parts, "Concepts: "+strings.Join(t.Concepts, ", "))
	}
	return strings.Join(parts, "\n")
}
