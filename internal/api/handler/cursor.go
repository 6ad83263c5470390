package handler

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fleetops/patchflow/internal/store"
)

func DecodeJobCursor(cursorStr string) (*store.JobCursor, error) {
	if cursorStr == "" {
		return nil, nil
	}

	decoded, err := base64.StdEncoding.DecodeString(cursorStr)
	if err != nil {
		return nil, err
	}

	// Further decoding logic to parse decoded string into store.JobCursor
	decodedParts := strings.Split(string(decoded), "|")
	if len(decodedParts) != 2 {
		return nil, fmt.Errorf("invalid cursor format")
	}

	var startedAt int64
	_, err = fmt.Sscanf(decodedParts[0], "%d", &startedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid startedAt in cursor: %w", err)
	}

	return &store.JobCursor{
		StartedAt: time.Unix(0, startedAt),
		JobID:     decodedParts[1],
	}, nil
}

func EncodeJobCursor(cursor *store.JobCursor) (string, error) {
	cs := fmt.Sprintf("%d|%s", cursor.StartedAt.UnixNano(), cursor.JobID)
	return base64.StdEncoding.EncodeToString([]byte(cs)), nil
}
