package model

import (
	"fmt"

	"github.com/google/uuid"
)

// GeneratePayload returns a fresh developer payload for a purchase attempt.
func GeneratePayload() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}

	return id.String(), nil
}

func MustGeneratePayload() string {
	payload, err := GeneratePayload()
	if err != nil {
		panic(fmt.Sprintf("failed to generate payload: %v", err))
	}

	return payload
}

// GenerateOwnerID returns a random owner identifier, used when a host does not
// bring its own (tests, dev mode).
func GenerateOwnerID() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(fmt.Sprintf("failed to generate owner id: %v", err))
	}

	return id.String()
}
