// Command event-sender posts a signed pull_request webhook to a running
// autogen service. It is a manual testing aid, not part of the service.
//
//	WEBHOOK_SECRET=whsec_test event-sender -url http://localhost:8080/webhook \
//	    -ref refs/pull/42/head -pr 42 -action labeled -label allow-autogen
package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type label struct {
	Name string `json:"name"`
}

type payload struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int `json:"number"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Labels []label `json:"labels"`
	} `json:"pull_request"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/webhook", "webhook endpoint")
	action := flag.String("action", "labeled", "pull request action")
	pr := flag.Int("pr", 1, "pull request number")
	ref := flag.String("ref", "refs/pull/1/head", "head ref")
	labels := flag.String("label", "allow-autogen", "comma-separated label names")
	flag.Parse()

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		log.Fatal("WEBHOOK_SECRET is required")
	}

	var p payload
	p.Action = *action
	p.PullRequest.Number = *pr
	p.PullRequest.Head.Ref = *ref
	for _, name := range strings.Split(*labels, ",") {
		if name = strings.TrimSpace(name); name != "" {
			p.PullRequest.Labels = append(p.PullRequest.Labels, label{Name: name})
		}
	}

	body, err := json.Marshal(p)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		log.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-Hub-Signature-256", signature)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("send: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s %s\n", resp.Status, string(respBody))
}
