// Package playerdata keeps per-player state on the server and ties it to the
// router: loading on join, saving on leave and on an interval, and pushing
// changes to the owning client.
package playerdata

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/c360/networker/errors"
	"github.com/c360/networker/message"
)

var (
	// ErrUnknownField is returned for field names Data does not have
	ErrUnknownField = stderrors.New("unknown player data field")

	// ErrFieldType is returned when a value has the wrong type for its field
	ErrFieldType = stderrors.New("wrong value type for field")

	// ErrNegative is returned for negative money or durability
	ErrNegative = stderrors.New("value must not be negative")
)

// ToolType is the tier of a tool slot
type ToolType int

// Tool tiers
const (
	ToolNone ToolType = iota
	ToolWood
	ToolStone
	ToolBronze
	ToolIron
)

var toolNames = [...]string{"none", "wood", "stone", "bronze", "iron"}

// Valid reports whether t is a known tier
func (t ToolType) Valid() bool {
	return t >= ToolNone && t <= ToolIron
}

// String returns the lowercase tier name
func (t ToolType) String() string {
	if !t.Valid() {
		return fmt.Sprintf("tool(%d)", int(t))
	}
	return toolNames[t]
}

// MarshalText implements encoding.TextMarshaler
func (t ToolType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tool type %d", int(t))
	}
	return []byte(toolNames[t]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ToolType) UnmarshalText(b []byte) error {
	name := strings.ToLower(string(b))
	for i, n := range toolNames {
		if n == name {
			*t = ToolType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown tool type %q", b)
}

// Field names as they appear in JSON and in change notifications
const (
	FieldMoney                 = "money"
	FieldAxeTool               = "axeTool"
	FieldAxeLostDurability     = "axeLostDurability"
	FieldPickaxeTool           = "pickaxeTool"
	FieldPickaxeLostDurability = "pickaxeLostDurability"
	FieldShovelTool            = "shovelTool"
	FieldShovelLostDurability  = "shovelLostDurability"
)

// DataType tags Data when it is sent over a channel
var DataType = message.Type{Domain: "playerdata", Category: "snapshot", Version: "v1"}

// Data is the persisted record of one player
type Data struct {
	Money                 int      `json:"money"`
	AxeTool               ToolType `json:"axeTool"`
	AxeLostDurability     int      `json:"axeLostDurability"`
	PickaxeTool           ToolType `json:"pickaxeTool"`
	PickaxeLostDurability int      `json:"pickaxeLostDurability"`
	ShovelTool            ToolType `json:"shovelTool"`
	ShovelLostDurability  int      `json:"shovelLostDurability"`
}

// Default returns the record a new player starts with
func Default() Data {
	return Data{Money: 100, AxeTool: ToolWood}
}

// Schema implements message.Payload
func (Data) Schema() message.Type { return DataType }

// Validate implements message.Payload
func (d Data) Validate() error {
	for _, f := range []string{FieldMoney, FieldAxeLostDurability, FieldPickaxeLostDurability, FieldShovelLostDurability} {
		if *d.intField(f) < 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s", ErrNegative, f), "Data", "Validate", "check "+f)
		}
	}
	for _, f := range []string{FieldAxeTool, FieldPickaxeTool, FieldShovelTool} {
		if !d.toolField(f).Valid() {
			return errors.WrapInvalid(fmt.Errorf("%w: %s", ErrFieldType, f), "Data", "Validate", "check "+f)
		}
	}
	return nil
}

func (d *Data) intField(field string) *int {
	switch field {
	case FieldMoney:
		return &d.Money
	case FieldAxeLostDurability:
		return &d.AxeLostDurability
	case FieldPickaxeLostDurability:
		return &d.PickaxeLostDurability
	case FieldShovelLostDurability:
		return &d.ShovelLostDurability
	}
	return nil
}

func (d *Data) toolField(field string) *ToolType {
	switch field {
	case FieldAxeTool:
		return &d.AxeTool
	case FieldPickaxeTool:
		return &d.PickaxeTool
	case FieldShovelTool:
		return &d.ShovelTool
	}
	return nil
}

// Get returns the value of field
func (d *Data) Get(field string) (any, error) {
	if p := d.intField(field); p != nil {
		return *p, nil
	}
	if p := d.toolField(field); p != nil {
		return *p, nil
	}
	return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", ErrUnknownField, field), "Data", "Get", "look up field")
}

// set assigns value to field after checking its type and range
func (d *Data) set(field string, value any) error {
	if p := d.intField(field); p != nil {
		n, ok := value.(int)
		if !ok {
			return errors.WrapInvalid(fmt.Errorf("%w: %s wants int, got %T", ErrFieldType, field, value), "Data", "set", "check type")
		}
		if n < 0 {
			return errors.WrapInvalid(fmt.Errorf("%w: %s=%d", ErrNegative, field, n), "Data", "set", "check range")
		}
		*p = n
		return nil
	}
	if p := d.toolField(field); p != nil {
		t, ok := value.(ToolType)
		if !ok || !t.Valid() {
			return errors.WrapInvalid(fmt.Errorf("%w: %s wants a tool type, got %v", ErrFieldType, field, value), "Data", "set", "check type")
		}
		*p = t
		return nil
	}
	return errors.WrapInvalid(fmt.Errorf("%w: %q", ErrUnknownField, field), "Data", "set", "look up field")
}

// fields returns d as a JSON object map
func (d Data) fields() (map[string]any, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

const toolSchema = `{"type":"string","enum":["none","wood","stone","bronze","iron"]}`

func init() {
	schema := `{"type":"object","properties":{` +
		`"money":{"type":"integer","minimum":0},` +
		`"axeTool":` + toolSchema + `,"axeLostDurability":{"type":"integer","minimum":0},` +
		`"pickaxeTool":` + toolSchema + `,"pickaxeLostDurability":{"type":"integer","minimum":0},` +
		`"shovelTool":` + toolSchema + `,"shovelLostDurability":{"type":"integer","minimum":0}` +
		`},"required":["money"]}`
	if err := message.Default.Register(&message.Registration{
		Type:        DataType,
		Description: "player data snapshot",
		Factory:     func() message.Payload { return &Data{} },
		JSONSchema:  schema,
	}); err != nil {
		panic("failed to register player data payload: " + err.Error())
	}
}
