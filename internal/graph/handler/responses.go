package handler

import (
	"vicinity/internal/graph/models"
)

type recordResponse struct {
	RecordID  string   `json:"record_id"`
	Owner     string   `json:"owner"`
	Head      uint64   `json:"head"`
	Neighbors []string `json:"neighbors"`
	Timestamp uint64   `json:"timestamp"`
}

type snapshotResponse struct {
	ID        uint64   `json:"id"`
	Owner     string   `json:"owner"`
	Neighbors []string `json:"neighbors"`
	Timestamp uint64   `json:"timestamp"`
	Previous  *uint64  `json:"previous,omitempty"`
}

type historyResponse struct {
	RecordID  string             `json:"record_id"`
	Snapshots []snapshotResponse `json:"snapshots"`
}

type registryResponse struct {
	Identities []string `json:"identities"`
}

func toRecordResponse(record models.UserRecord) recordResponse {
	resp := recordResponse{
		RecordID:  record.ID.String(),
		Owner:     record.Owner.String(),
		Head:      uint64(record.Head),
		Neighbors: make([]string, len(record.Current.Neighbors)),
		Timestamp: record.Current.Timestamp,
	}
	for i, n := range record.Current.Neighbors {
		resp.Neighbors[i] = n.String()
	}
	return resp
}

func toSnapshotResponse(snapshot models.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		ID:        uint64(snapshot.ID),
		Owner:     snapshot.Owner.String(),
		Neighbors: make([]string, len(snapshot.Neighbors)),
		Timestamp: snapshot.Timestamp,
	}
	for i, n := range snapshot.Neighbors {
		resp.Neighbors[i] = n.String()
	}
	if snapshot.Previous != nil {
		prev := uint64(*snapshot.Previous)
		resp.Previous = &prev
	}
	return resp
}
