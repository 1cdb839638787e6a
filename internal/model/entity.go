package model

// EntityType names a kind of versioned entity.
type EntityType string

const (
	TypeProduct EntityType = "product"
	TypeContent EntityType = "content"
)

// Entity is the behavior shared by Product and Content.
type Entity interface {
	UUID() string
	ID() string
	Version() uint64
	EntityType() EntityType
}
