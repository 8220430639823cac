package handler

import (
	id "vicinity/pkg/domain"
)

type registerRequest struct {
	Neighbors []string `json:"neighbors"`
}

type updateRequest struct {
	Neighbors []string `json:"neighbors"`
}

type spawnRequest struct {
	Target    string   `json:"target"`
	Neighbors []string `json:"neighbors"`
}

func toPeerRefs(raw []string) []id.PeerRef {
	neighbors := make([]id.PeerRef, len(raw))
	for i, r := range raw {
		neighbors[i] = id.PeerRef(r)
	}
	return neighbors
}
