package registers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "embed"

	"gopkg.in/ini.v1"

	bmserrors "github.com/tinybms/bridge/errors"
)

//go:embed descriptors.ini
var defaultCatalogueINI []byte

// Catalogue is the immutable, ordered set of register descriptors the
// parser and CAN mapper walk in lock-step. It is built once at process
// start from the embedded descriptors.ini and never mutated afterward,
// mirroring how the teacher library treats its parsed Object Dictionary
// as read-only once ParseEDS has returned.
type Catalogue struct {
	ordered  []Descriptor
	byAddr   map[uint16]Descriptor
	byKey    map[string]Descriptor
}

// DefaultCatalogue parses the descriptor table embedded in the binary.
func DefaultCatalogue() (*Catalogue, error) {
	return LoadCatalogue(defaultCatalogueINI)
}

// LoadCatalogue parses an arbitrary descriptors.ini document, in the
// same section-per-entry shape as the embedded default. It exists
// separately from DefaultCatalogue so tests and tooling can exercise
// alternate or partial tables.
func LoadCatalogue(data []byte) (*Catalogue, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, fmt.Errorf("registers: parse descriptors.ini: %w", err)
	}

	c := &Catalogue{
		byAddr: make(map[uint16]Descriptor),
		byKey:  make(map[string]Descriptor),
	}

	sections := f.Sections()
	for _, sec := range sections {
		name := sec.Name()
		if name == ini.DefaultSection {
			continue
		}
		addr, err := parseAddress(name)
		if err != nil {
			return nil, fmt.Errorf("registers: section %q: %w", name, err)
		}
		d, err := buildDescriptor(addr, sec)
		if err != nil {
			return nil, fmt.Errorf("registers: section %q: %w", name, err)
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("registers: section %q: %w", name, err)
		}
		if _, dup := c.byAddr[d.Address]; dup {
			return nil, fmt.Errorf("registers: duplicate address 0x%04X", d.Address)
		}
		if _, dup := c.byKey[d.Key]; dup {
			return nil, fmt.Errorf("registers: duplicate key %q", d.Key)
		}
		c.byAddr[d.Address] = d
		c.byKey[d.Key] = d
		c.ordered = append(c.ordered, d)
	}

	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].Address < c.ordered[j].Address
	})

	return c, nil
}

func parseAddress(section string) (uint16, error) {
	s := strings.TrimSpace(section)
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, bmserrors.ErrInvalidDescriptor
	}
	return uint16(v), nil
}

func buildDescriptor(addr uint16, sec *ini.Section) (Descriptor, error) {
	d := Descriptor{Address: addr}
	d.Key = sec.Key("Key").String()
	d.Label = sec.Key("Label").String()
	d.Unit = sec.Key("Unit").String()
	d.Group = sec.Key("Group").String()

	if d.Key == "" {
		return d, bmserrors.ErrInvalidDescriptor
	}

	wt, err := parseWordType(sec.Key("Type").String())
	if err != nil {
		return d, err
	}
	d.Type = wt

	acc, err := parseAccess(sec.Key("AccessType").String())
	if err != nil {
		return d, err
	}
	d.Access = acc

	class, err := parseClass(sec.Key("ValueClass").String())
	if err != nil {
		return d, err
	}
	d.Class = class

	d.Scale, err = sec.Key("Scale").Float64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}
	d.Offset, err = sec.Key("Offset").Float64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}
	d.Step, err = sec.Key("Step").Float64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}
	d.MinRaw, err = sec.Key("MinRaw").Int64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}
	d.MaxRaw, err = sec.Key("MaxRaw").Int64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}
	d.Precision = sec.Key("Precision").MustInt(0)
	d.DefaultRaw, err = sec.Key("DefaultRaw").Int64()
	if err != nil {
		return d, bmserrors.ErrInvalidDescriptor
	}

	if enumSpec := sec.Key("Enum").String(); enumSpec != "" {
		opts, err := parseEnumOptions(enumSpec)
		if err != nil {
			return d, err
		}
		d.Options = opts
	}

	return d, nil
}

func parseWordType(s string) (WordType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "U16":
		return TypeU16, nil
	case "I16":
		return TypeI16, nil
	case "U32":
		return TypeU32, nil
	case "F32":
		return TypeF32, nil
	case "I8PAIR":
		return TypeI8Pair, nil
	default:
		return 0, bmserrors.ErrInvalidDescriptor
	}
}

func parseAccess(s string) (Access, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ro":
		return AccessRO, nil
	case "wo":
		return AccessWO, nil
	case "rw":
		return AccessRW, nil
	default:
		return 0, bmserrors.ErrInvalidDescriptor
	}
}

func parseClass(s string) (ValueClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unsigned":
		return ClassUnsigned, nil
	case "signed":
		return ClassSigned, nil
	case "float":
		return ClassFloat, nil
	case "enum":
		return ClassEnum, nil
	default:
		return 0, bmserrors.ErrInvalidDescriptor
	}
}

func parseEnumOptions(spec string) ([]EnumOption, error) {
	var opts []EnumOption
	for _, pair := range strings.Split(spec, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, bmserrors.ErrInvalidDescriptor
		}
		v, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, bmserrors.ErrInvalidDescriptor
		}
		opts = append(opts, EnumOption{Value: v, Label: strings.TrimSpace(parts[1])})
	}
	return opts, nil
}

// Ordered returns the descriptor table in ascending address order, the
// walk order the serial parser and framer use.
func (c *Catalogue) Ordered() []Descriptor {
	out := make([]Descriptor, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// ByAddress looks up a descriptor by its wire address.
func (c *Catalogue) ByAddress(addr uint16) (Descriptor, bool) {
	d, ok := c.byAddr[addr]
	return d, ok
}

// ByKey looks up a descriptor by its stable string key, the identifier
// the config manager and CAN field mapper use.
func (c *Catalogue) ByKey(key string) (Descriptor, bool) {
	d, ok := c.byKey[key]
	return d, ok
}

// Len returns the number of descriptors in the catalogue.
func (c *Catalogue) Len() int {
	return len(c.ordered)
}

// TotalWords returns the number of 16-bit words a full poll of every
// descriptor in the catalogue occupies on the wire, used to size the
// framer's expected payload length.
func (c *Catalogue) TotalWords() int {
	n := 0
	for _, d := range c.ordered {
		n += d.Type.WordCount()
	}
	return n
}
