package node

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"gossipd/internal/gossip"
	"gossipd/internal/telemetry"
)

// MemberInfo is one row of the /members response.
type MemberInfo struct {
	Port     gossip.Port `json:"port"`
	Count    uint64      `json:"count"`
	LastSeen int64       `json:"last_seen"`
	Self     bool        `json:"self,omitempty"`
}

// MembersResponse is the /members response body.
type MembersResponse struct {
	Self     gossip.Port  `json:"self"`
	Instance string       `json:"instance"`
	Members  []MemberInfo `json:"members"`
}

// Handler returns the admin HTTP handler: /metrics, /members and /healthz.
func (n *Node) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", telemetry.Handler(n.registry))
	mux.HandleFunc("GET /members", n.handleMembers)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})
	return mux
}

// Members returns the current view as MemberInfo rows in port order.
func (n *Node) Members() MembersResponse {
	snap := n.engine.Snapshot()
	resp := MembersResponse{
		Self:     snap.Self,
		Instance: n.instance,
		Members:  make([]MemberInfo, 0, len(snap.Members)),
	}
	for _, p := range snap.Ports() {
		hb := snap.Members[p]
		resp.Members = append(resp.Members, MemberInfo{
			Port:     p,
			Count:    hb.Count,
			LastSeen: hb.LastSeen,
			Self:     p == snap.Self,
		})
	}
	return resp
}

func (n *Node) handleMembers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(n.Members()); err != nil {
		n.log.Debug("Writing /members response", zap.Error(err))
	}
}
