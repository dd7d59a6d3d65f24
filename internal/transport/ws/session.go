package ws

import "github.com/google/uuid"

func newSessionID() string { return "S_" + uuid.NewString() }
