// Minimal end-to-end check of a running NexVote API: create, vote, finalize,
// verify. The community must exist and list USER_ID as a member.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/stake-plus/nexvote/src/types"
	"github.com/stake-plus/nexvote/src/webserver"
)

var (
	baseURL     = getenv("API_URL", "http://localhost:3000")
	secret      = getenv("JWT_SECRET", "dev-secret-change-me")
	communityID = getenv("COMMUNITY_ID", "")
	region      = getenv("REGION_CODE", "")
	userID      = getenv("USER_ID", "smoke-user")
)

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	if communityID == "" {
		log.Fatal("COMMUNITY_ID is required")
	}
	user := token(types.Identity{UserID: userID, Role: "user", RegionCode: region})
	admin := token(types.Identity{UserID: "smoke-admin", Role: "admin", RegionCode: region})

	id := createProposal(user)
	castVote(user, id)
	finalize(admin, id)
	verify(id)

	fmt.Println("✓ all endpoints passed")
}

func token(id types.Identity) string {
	tok, err := webserver.IssueJWT(id, []byte(secret), time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}
	return tok
}

// ----------------------------- proposals

func createProposal(tok string) string {
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	doAuth(tok, "POST", "/api/proposals", map[string]any{
		"communityId": communityID,
		"title":       "Smoke test proposal " + uuid.NewString()[:8],
		"text":        "Integration check " + uuid.NewString() + ". This proposal exists to exercise the lifecycle end to end.",
		"category":    "smoke-" + uuid.NewString()[:8],
	}, &resp, http.StatusCreated)
	if resp.ID == "" || resp.Status != "voting" {
		log.Fatalf("create: unexpected response %+v", resp)
	}
	return resp.ID
}

func castVote(tok, id string) {
	var resp struct {
		Counts types.Counts `json:"counts"`
	}
	doAuth(tok, "POST", "/api/proposals/"+id+"/vote", map[string]any{"choice": "yes"}, &resp, http.StatusOK)
	if resp.Counts.Yes != 1 {
		log.Fatalf("vote: tally missing yes, got %+v", resp.Counts)
	}
}

func finalize(tok, id string) {
	var resp struct {
		Status string `json:"status"`
	}
	doAuth(tok, "POST", "/api/admin/finalize", map[string]any{"proposalId": id}, &resp, http.StatusOK)
	if resp.Status != "passed" {
		log.Fatalf("finalize: want passed, got %q", resp.Status)
	}
}

func verify(id string) {
	var resp struct {
		Configured   bool `json:"configured"`
		ProposalHash bool `json:"proposalHash"`
		ResultHash   bool `json:"resultHash"`
	}
	doJSON("GET", "/api/proposals/"+id+"/verify", nil, &resp, http.StatusOK)
	if resp.Configured && !(resp.ProposalHash && resp.ResultHash) {
		log.Fatalf("verify: registry mismatch %+v", resp)
	}
}

// ----------------------------- helpers

func doAuth(token, method, path string, body, out any, want int) {
	doReq(method, path, token, body, out, want)
}

func doJSON(method, path string, body, out any, want int) {
	doReq(method, path, "", body, out, want)
}

func doReq(method, path, token string, body, out any, want int) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			log.Fatalf("%s %s encode: %v", method, path, err)
		}
	}
	req, _ := http.NewRequest(method, baseURL+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	if res.StatusCode != want {
		log.Fatalf("%s %s: want %d got %d", method, path, want, res.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			log.Fatalf("%s %s decode: %v", method, path, err)
		}
	}
}
