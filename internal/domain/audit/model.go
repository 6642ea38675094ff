package audit

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ehr/medledger/internal/domain/access"
)

// ActionType enumerates the auditable actions. Zero and anything above
// ActionDeactivate are invalid.
type ActionType uint8

const (
	ActionRegister ActionType = iota + 1
	ActionView
	ActionShare
	ActionRevoke
	ActionUpdate
	ActionDeactivate
)

var actionNames = [...]string{
	ActionRegister:   "register",
	ActionView:       "view",
	ActionShare:      "share",
	ActionRevoke:     "revoke",
	ActionUpdate:     "update",
	ActionDeactivate: "deactivate",
}

func (a ActionType) Valid() bool {
	return a >= ActionRegister && a <= ActionDeactivate
}

func (a ActionType) String() string {
	if a.Valid() {
		return actionNames[a]
	}
	return "action(" + strconv.Itoa(int(a)) + ")"
}

// ParseActionType accepts a number, a name, or the ACTION_* spelling.
// Out-of-range numbers parse without error so that validation reports them.
func ParseActionType(s string) (ActionType, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "action_")
	if n, err := strconv.ParseUint(v, 10, 8); err == nil {
		return ActionType(n), nil
	}
	for i, name := range actionNames {
		if name != "" && name == v {
			return ActionType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action type %q", s)
}

// Entry is one immutable audit record. Seq orders a patient's entries by
// insertion.
type Entry struct {
	ID          uuid.UUID        `json:"id"`
	PatientID   string           `json:"patient_id"`
	Seq         int64            `json:"seq"`
	Accessor    access.Principal `json:"accessor"`
	DataHash    string           `json:"data_hash"`
	ActionType  ActionType       `json:"action_type"`
	Description string           `json:"description"`
	Timestamp   int64            `json:"timestamp"`
}

// Filter narrows a trail. Nil bounds and a zero Action match everything;
// bounds are inclusive.
type Filter struct {
	Start  *int64
	End    *int64
	Action ActionType
}

func (f Filter) Match(e *Entry) bool {
	if f.Start != nil && e.Timestamp < *f.Start {
		return false
	}
	if f.End != nil && e.Timestamp > *f.End {
		return false
	}
	return f.Action == 0 || e.ActionType == f.Action
}
