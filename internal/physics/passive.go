package physics

import "github.com/san-kum/partsim/internal/dynamo"

// Passive is a set of non-interacting particles.
type Passive struct {
	*dynamo.BaseModel
}

func NewPassive(n int, useAccelerator bool, domain dynamo.Domain) (*Passive, error) {
	base, err := dynamo.NewBaseModel(n, useAccelerator, domain)
	if err != nil {
		return nil, err
	}
	return &Passive{BaseModel: base}, nil
}
