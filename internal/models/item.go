// internal/models/item.go
package models

// ItemKind tags what an item does when used or carried.
type ItemKind string

const (
	ItemKindPotion ItemKind = "potion"
	ItemKindWeapon ItemKind = "weapon"
	ItemKindArmor  ItemKind = "armor"
	ItemKindKey    ItemKind = "key"
	ItemKindMisc   ItemKind = "misc"
)

// Item is a value; possession is membership in an inventory.
type Item struct {
	Name         string   `json:"name"`
	Kind         ItemKind `json:"kind"`
	Description  string   `json:"description,omitempty"`
	HealAmount   int      `json:"heal_amount,omitempty"`   // potion
	DamageDie    string   `json:"damage_die,omitempty"`    // weapon
	DefenseBonus int      `json:"defense_bonus,omitempty"` // armor
}

func (k ItemKind) Valid() bool {
	switch k {
	case ItemKindPotion, ItemKindWeapon, ItemKindArmor, ItemKindKey, ItemKindMisc:
		return true
	}
	return false
}
