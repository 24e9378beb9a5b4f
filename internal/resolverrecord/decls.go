package resolverrecord

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Decl declares one named, typed parameter or output field.
type Decl struct {
	Name     string `json:"name" yaml:"name"`
	Type     string `json:"type" yaml:"type"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
}

// Decls is an ordered list of declarations. Order is the declaration order
// of the source document.
type Decls []Decl

// ParseDecls parses a JSON or YAML mapping such as {"userId":"Long"}.
// A trailing "!" on a type marks the entry required. Blank text yields nil.
func ParseDecls(text string) (Decls, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, fmt.Errorf("parse declarations: %w", err)
	}
	var decls Decls
	if err := decls.UnmarshalYAML(&node); err != nil {
		return nil, err
	}
	return decls, nil
}

// UnmarshalYAML accepts three shapes:
//
//	{userId: Int!}                         name to type
//	{userId: {type: Int, required: true}}  name to detail
//	[{name: userId, type: Int}]            explicit list
//
// A scalar holding any of these as JSON text is parsed as well.
func (d *Decls) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			*d = nil
			return nil
		}
		node = node.Content[0]
	}

	switch node.Kind {
	case yaml.ScalarNode:
		text := strings.TrimSpace(node.Value)
		if node.Tag == "!!null" || text == "" {
			*d = nil
			return nil
		}
		if !strings.HasPrefix(text, "{") && !strings.HasPrefix(text, "[") {
			return fmt.Errorf("declarations: expected a mapping or list, got %q", text)
		}
		parsed, err := ParseDecls(text)
		if err != nil {
			return err
		}
		*d = parsed
		return nil

	case yaml.SequenceNode:
		out := make(Decls, 0, len(node.Content))
		for _, item := range node.Content {
			var decl Decl
			if err := item.Decode(&decl); err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			out = append(out, normalizeDecl(decl))
		}
		*d = out
		return nil

	case yaml.MappingNode:
		out := make(Decls, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			decl := Decl{Name: key.Value}
			switch value.Kind {
			case yaml.ScalarNode:
				decl.Type = value.Value
			case yaml.MappingNode:
				var detail struct {
					Type     string `yaml:"type"`
					Required bool   `yaml:"required"`
				}
				if err := value.Decode(&detail); err != nil {
					return fmt.Errorf("declaration %q: %w", key.Value, err)
				}
				decl.Type = detail.Type
				decl.Required = detail.Required
			default:
				return fmt.Errorf("declaration %q: expected a type name or mapping", key.Value)
			}
			out = append(out, normalizeDecl(decl))
		}
		*d = out
		return nil
	}
	return fmt.Errorf("declarations: unsupported YAML node at line %d", node.Line)
}

// MarshalYAML writes the compact name-to-type mapping form.
func (d Decls) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, decl := range d {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: decl.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: decl.typeSpec()},
		)
	}
	return node, nil
}

// UnmarshalJSON reuses the YAML decoder, which keeps key order.
func (d *Decls) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*d = nil
		return nil
	}
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return fmt.Errorf("parse declarations: %w", err)
	}
	return d.UnmarshalYAML(&node)
}

// MarshalJSON writes an ordered {"name":"Type"} object.
func (d Decls) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, decl := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(decl.Name)
		val, _ := json.Marshal(decl.typeSpec())
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// String renders the JSON text form stored by the SQL store.
func (d Decls) String() string {
	if len(d) == 0 {
		return ""
	}
	b, _ := d.MarshalJSON()
	return string(b)
}

// Lookup finds a declaration by name.
func (d Decls) Lookup(name string) (Decl, bool) {
	for _, decl := range d {
		if decl.Name == name {
			return decl, true
		}
	}
	return Decl{}, false
}

func (d Decl) typeSpec() string {
	if d.Required {
		return d.Type + "!"
	}
	return d.Type
}

func normalizeDecl(d Decl) Decl {
	d.Name = strings.TrimSpace(d.Name)
	d.Type = strings.TrimSpace(d.Type)
	if strings.HasSuffix(d.Type, "!") {
		d.Type = strings.TrimSpace(strings.TrimSuffix(d.Type, "!"))
		d.Required = true
	}
	return d
}
