package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a schema object. Mapping order is preserved for
// properties. Keywords outside the supported vocabulary are ignored.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.AliasNode && value.Alias != nil {
		value = value.Alias
	}
	if value.Kind == yaml.ScalarNode && value.ShortTag() == "!!bool" {
		var allow bool
		if err := value.Decode(&allow); err != nil {
			return err
		}
		if !allow {
			return fmt.Errorf("line %d: boolean schema false is not supported", value.Line)
		}
		*n = Node{}
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: schema must be a mapping", value.Line)
	}

	var out Node
	var exclusiveMin, exclusiveMax bool
	for i := 0; i+1 < len(value.Content); i += 2 {
		key := value.Content[i].Value
		val := value.Content[i+1]

		var err error
		switch key {
		case "$ref":
			err = val.Decode(&out.Ref)
		case "type":
			out.Types, err = decodeTypes(val)
		case "nullable":
			err = val.Decode(&out.Nullable)
		case "required":
			// OAS2 parameters use a boolean required; only lists apply here.
			if val.Kind == yaml.SequenceNode {
				err = val.Decode(&out.Required)
			}
		case "properties":
			out.Properties, err = decodeProperties(val)
		case "additionalProperties":
			if val.Kind == yaml.ScalarNode {
				var allow bool
				if err = val.Decode(&allow); err == nil {
					out.DenyAdditional = !allow
				}
				break
			}
			out.AdditionalProperties = &Node{}
			err = val.Decode(out.AdditionalProperties)
		case "items":
			if val.Kind == yaml.SequenceNode {
				err = fmt.Errorf("line %d: tuple items are not supported", val.Line)
				break
			}
			out.Items = &Node{}
			err = val.Decode(out.Items)
		case "enum":
			err = val.Decode(&out.Enum)
		case "minimum":
			out.Minimum, err = decodeFloat(val)
		case "maximum":
			out.Maximum, err = decodeFloat(val)
		case "exclusiveMinimum":
			if val.ShortTag() == "!!bool" {
				err = val.Decode(&exclusiveMin)
				break
			}
			out.ExclusiveMinimum, err = decodeFloat(val)
		case "exclusiveMaximum":
			if val.ShortTag() == "!!bool" {
				err = val.Decode(&exclusiveMax)
				break
			}
			out.ExclusiveMaximum, err = decodeFloat(val)
		case "minLength":
			out.MinLength, err = decodeInt(val)
		case "maxLength":
			out.MaxLength, err = decodeInt(val)
		case "pattern":
			err = val.Decode(&out.Pattern)
		case "minItems":
			out.MinItems, err = decodeInt(val)
		case "maxItems":
			out.MaxItems, err = decodeInt(val)
		case "allOf":
			out.AllOf, err = decodeList(val)
		case "anyOf":
			out.AnyOf, err = decodeList(val)
		case "oneOf":
			out.OneOf, err = decodeList(val)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	// OAS 3.0 boolean form turns the inclusive bound into an exclusive one.
	if exclusiveMin && out.Minimum != nil {
		out.ExclusiveMinimum, out.Minimum = out.Minimum, nil
	}
	if exclusiveMax && out.Maximum != nil {
		out.ExclusiveMaximum, out.Maximum = out.Maximum, nil
	}

	*n = out
	return nil
}

func decodeTypes(val *yaml.Node) ([]Type, error) {
	switch val.Kind {
	case yaml.ScalarNode:
		return []Type{Type(val.Value)}, nil
	case yaml.SequenceNode:
		var raw []string
		if err := val.Decode(&raw); err != nil {
			return nil, err
		}
		types := make([]Type, len(raw))
		for i, t := range raw {
			types[i] = Type(t)
		}
		return types, nil
	default:
		return nil, fmt.Errorf("line %d: type must be a string or a list", val.Line)
	}
}

func decodeProperties(val *yaml.Node) ([]Property, error) {
	if val.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: properties must be a mapping", val.Line)
	}
	props := make([]Property, 0, len(val.Content)/2)
	for i := 0; i+1 < len(val.Content); i += 2 {
		name := val.Content[i].Value
		child := &Node{}
		if err := val.Content[i+1].Decode(child); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		props = append(props, Property{Name: name, Schema: child})
	}
	return props, nil
}

func decodeList(val *yaml.Node) ([]*Node, error) {
	if val.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("line %d: expected a list of schemas", val.Line)
	}
	out := make([]*Node, 0, len(val.Content))
	for _, item := range val.Content {
		child := &Node{}
		if err := item.Decode(child); err != nil {
			return nil, err
		}
		out = append(out, child)
	}
	return out, nil
}

func decodeFloat(val *yaml.Node) (*float64, error) {
	var f float64
	if err := val.Decode(&f); err != nil {
		return nil, err
	}
	return &f, nil
}

func decodeInt(val *yaml.Node) (*int, error) {
	var i int
	if err := val.Decode(&i); err != nil {
		return nil, err
	}
	return &i, nil
}
