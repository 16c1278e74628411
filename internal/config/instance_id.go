package config

import "github.com/google/uuid"

func generateInstanceID() string {
	return "lambo-" + uuid.NewString()
}
