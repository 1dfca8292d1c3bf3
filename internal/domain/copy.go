package domain

import "time"

type CopyState string

const (
	CopyStateInLibrary        CopyState = "in_library"
	CopyStateLoaned           CopyState = "loaned"
	CopyStateLost             CopyState = "lost"
	CopyStateCommunityDiscard CopyState = "community_discard"
)

func (s CopyState) Valid() bool {
	switch s {
	case CopyStateInLibrary, CopyStateLoaned, CopyStateLost, CopyStateCommunityDiscard:
		return true
	}
	return false
}

type CopyCondition string

const (
	CopyConditionNew     CopyCondition = "new"
	CopyConditionGood    CopyCondition = "good"
	CopyConditionFair    CopyCondition = "fair"
	CopyConditionPoor    CopyCondition = "poor"
	CopyConditionDamaged CopyCondition = "damaged"
)

func (c CopyCondition) Valid() bool {
	switch c {
	case CopyConditionNew, CopyConditionGood, CopyConditionFair, CopyConditionPoor, CopyConditionDamaged:
		return true
	}
	return false
}

// Copy is one physical unit of a title. Its State only changes through the
// loan state machine or the inventory discard operation.
type Copy struct {
	ID            int32         `json:"id"`
	InventoryCode string        `json:"inventory_code"`
	TitleID       int32         `json:"title_id"`
	CategoryID    int32         `json:"category_id"`
	CollectionID  *int32        `json:"collection_id,omitempty"`
	Condition     CopyCondition `json:"condition"`
	LocationID    *int32        `json:"location_id,omitempty"`
	State         CopyState     `json:"state"`
	Version       int32         `json:"version"`
	CreatedOn     time.Time     `json:"created_on"`
	UpdatedOn     time.Time     `json:"updated_on"`
}

// Validate checks the copy's own invariants.
func (c *Copy) Validate() error {
	if c.TitleID <= 0 {
		return NewInvalidArgument("copy must reference a title")
	}
	if !c.State.Valid() {
		return NewInvalidArgument("unknown copy state " + string(c.State))
	}
	if c.Condition != "" && !c.Condition.Valid() {
		return NewInvalidArgument("unknown copy condition " + string(c.Condition))
	}
	if c.State == CopyStateCommunityDiscard && c.LocationID != nil {
		return NewInvalidArgument("a copy discarded to the community collection cannot have a location")
	}
	return nil
}

// Shelved reports whether the copy is physically on the shelves.
func (c *Copy) Shelved() bool {
	return c.State == CopyStateInLibrary
}
