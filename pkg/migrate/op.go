package migrate

import (
	"encoding/json"
	"fmt"

	"github.com/tqbf/patchkit/pkg/index"
)

type OpKind int

const (
	OpAdd OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "Add"
	case OpDelete:
		return "Delete"
	default:
		return fmt.Sprintf("OpKind(%d)", int(k))
	}
}

// Op is one step of a migration plan: create-or-overwrite an entry, or
// remove it.
type Op struct {
	Kind  OpKind
	Entry index.Entry
}

func Add(e index.Entry) Op {
	return Op{Kind: OpAdd, Entry: e}
}

func Delete(e index.Entry) Op {
	return Op{Kind: OpDelete, Entry: e}
}

func (o Op) String() string {
	if o.Entry.IsDir {
		return fmt.Sprintf("%s(%s/)", o.Kind, o.Entry.Path)
	}
	return fmt.Sprintf(
		"%s(%s,%s,%d)",
		o.Kind, o.Entry.Path, index.Short(o.Entry.Hash), o.Entry.Size,
	)
}

func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OpAdd, OpDelete:
		return json.Marshal(map[string]index.Entry{
			o.Kind.String(): o.Entry,
		})
	default:
		return nil, fmt.Errorf("unknown op kind %d", int(o.Kind))
	}
}

func (o *Op) UnmarshalJSON(data []byte) error {
	var raw map[string]index.Entry
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf(
			"%w: migration needs exactly one of Add or Delete",
			index.ErrMalformed,
		)
	}
	for k, e := range raw {
		switch k {
		case "Add":
			*o = Add(e)
		case "Delete":
			*o = Delete(e)
		default:
			return fmt.Errorf(
				"%w: unknown migration %q", index.ErrMalformed, k,
			)
		}
	}
	return nil
}

// Patch is the payload of a bundle: release metadata of the target version
// plus the plan that reaches it.
type Patch struct {
	index.Meta
	Migrations []Op `json:"migrations"`
}

func NewPatch(target *index.Index, ops []Op) *Patch {
	if ops == nil {
		ops = []Op{}
	}
	return &Patch{Meta: target.Meta, Migrations: ops}
}

func (p *Patch) Validate() error {
	for i, op := range p.Migrations {
		if err := op.Entry.Validate(); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}
	return nil
}

// Blobs lists the distinct content hashes the plan adds, in plan order.
func (p *Patch) Blobs() []string {
	return AddedHashes(p.Migrations)
}

func AddedHashes(ops []Op) []string {
	seen := make(map[string]bool)
	var out []string
	for _, op := range ops {
		if op.Kind != OpAdd || op.Entry.IsDir || seen[op.Entry.Hash] {
			continue
		}
		seen[op.Entry.Hash] = true
		out = append(out, op.Entry.Hash)
	}
	return out
}
