// Package bytecode holds the shared opcode table and inline-cache layout
// constants used by both internal/compiler (emission) and internal/vm
// (dispatch). Kept as its own leaf package so neither side imports the
// other (spec.md §4.4/§4.5).
package bytecode

// Op is a single bytecode instruction opcode. Modeled as an iota-enum
// the way the teacher enumerates lexer.TokenType.
type Op uint8

const (
	OpNop Op = iota

	// Stack
	OpPushConst
	OpPushLocal
	OpPushUpvalue
	OpPushSelf
	OpPop
	OpDup

	// Binding
	OpStoreLocal
	OpStoreUpvalue

	// Destructuring assignment (spec.md §4.4): a local slot holds the
	// already-evaluated RHS, and these read out of it by position (list
	// targets) or by key (record targets, `**rest`).
	OpDestructureIndex    // push local[A] at index B
	OpDestructureRestList // push local[A][B:] as a List
	OpDestructureKey      // push local[A][const name B]
	OpDestructureRestRecord

	// Control
	OpJump
	OpJumpIfFalse
	OpJumpIfTrue
	OpReturn

	// Allocation
	OpMakeBlock
	OpMakeRecord
	OpMakeList
	OpMakeChannel
	OpMakeFiber
	OpMakeBox

	// Send — generic, plus specialized forms an inline cache rewrites
	// a OpSend into once a call site has been resolved (spec.md §4.5
	// "opcode rewriting to specialized sends").
	OpSend
	OpSendCachedType
	OpSendCachedKind
	OpSendProperty
	OpSendBlockInvoke
	OpTailSend
)

func (o Op) String() string {
	switch o {
	case OpNop:
		return "nop"
	case OpPushConst:
		return "push_const"
	case OpPushLocal:
		return "push_local"
	case OpPushUpvalue:
		return "push_upvalue"
	case OpPushSelf:
		return "push_self"
	case OpPop:
		return "pop"
	case OpDup:
		return "dup"
	case OpStoreLocal:
		return "store_local"
	case OpStoreUpvalue:
		return "store_upvalue"
	case OpDestructureIndex:
		return "destructure_index"
	case OpDestructureRestList:
		return "destructure_rest_list"
	case OpDestructureKey:
		return "destructure_key"
	case OpDestructureRestRecord:
		return "destructure_rest_record"
	case OpJump:
		return "jump"
	case OpJumpIfFalse:
		return "jump_if_false"
	case OpJumpIfTrue:
		return "jump_if_true"
	case OpReturn:
		return "return"
	case OpMakeBlock:
		return "make_block"
	case OpMakeRecord:
		return "make_record"
	case OpMakeList:
		return "make_list"
	case OpMakeChannel:
		return "make_channel"
	case OpMakeFiber:
		return "make_fiber"
	case OpMakeBox:
		return "make_box"
	case OpSend:
		return "send"
	case OpSendCachedType:
		return "send_cached_type"
	case OpSendCachedKind:
		return "send_cached_kind"
	case OpSendProperty:
		return "send_property"
	case OpSendBlockInvoke:
		return "send_block_invoke"
	case OpTailSend:
		return "tail_send"
	default:
		return "unknown"
	}
}

// Instr is one decoded bytecode instruction: an opcode plus up to three
// operand slots (constant-pool index, local slot, jump target — whichever
// the opcode calls for). C is only meaningful on send opcodes, where it
// holds the argument count for that call site.
type Instr struct {
	Op      Op
	A, B, C int32
	Line    int
}

// CacheLen is the number of inline-cache slots attached to each send site
// (spec.md §4.5: "CACHE_LEN=4, first-slot-in-line eviction").
const CacheLen = 4

// CacheSlot remembers one previously observed receiver shape at a send
// site, and the dispatch outcome that was resolved for it.
type CacheSlot struct {
	ShapeID  uint64 // 0 == empty slot
	TargetPC int32
	Kind     CacheKind
}

// CacheKind distinguishes why a cache slot matched, mirroring the message
// dispatch protocol's match tiers (spec.md §4.5).
type CacheKind uint8

const (
	CacheMiss CacheKind = iota
	CacheNoImplementation
	CacheTypeMatched
	CacheKindMatched
	CacheGeneral
	CachePropertyMatched
)

func (k CacheKind) String() string {
	switch k {
	case CacheNoImplementation:
		return "no_implementation"
	case CacheTypeMatched:
		return "type_matched"
	case CacheKindMatched:
		return "kind_matched"
	case CacheGeneral:
		return "general"
	case CachePropertyMatched:
		return "property_matched"
	default:
		return "miss"
	}
}

// InlineCache is the CACHE_LEN-slot array attached to a single OpSend
// site. Eviction always replaces slot 0 and shifts the rest down one
// position ("first-slot-in-line eviction", spec.md Open Question #3,
// resolved in SPEC_FULL.md §5 to keep the teacher-inherited policy).
type InlineCache struct {
	Slots [CacheLen]CacheSlot
}

// Lookup returns the slot matching shapeID, or ok=false on a miss.
func (c *InlineCache) Lookup(shapeID uint64) (CacheSlot, bool) {
	for _, s := range c.Slots {
		if s.ShapeID == shapeID {
			return s, true
		}
	}
	return CacheSlot{}, false
}

// Insert evicts the slot in position 0 and shifts the remaining slots
// down, then appends the new entry at the end — "first-slot-in-line
// eviction".
func (c *InlineCache) Insert(slot CacheSlot) {
	copy(c.Slots[0:], c.Slots[1:])
	c.Slots[CacheLen-1] = slot
}
