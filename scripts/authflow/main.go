// Command authflow drives the full session lifecycle against a running
// instance: register, verify, login, me, refresh, replay of the rotated
// refresh token, logout. It exits non-zero when a step deviates from the
// expected outcome, so it can gate deploys.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"os"
	"time"
)

type step struct {
	Name       string
	Method     string
	Path       string
	Body       map[string]string
	WantStatus int
}

func main() {
	var (
		base        string
		email       string
		pass        string
		verifyToken string
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080/api", "API base URL including prefix")
	flag.StringVar(&email, "email", fmt.Sprintf("authflow+%d@example.com", time.Now().Unix()), "account email")
	flag.StringVar(&pass, "password", "authflow-secret-1", "account password")
	flag.StringVar(&verifyToken, "verify-token", "", "verification token (from the mail log) to activate the account before login")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Timeout: timeout, Jar: jar}

	steps := []step{
		{Name: "register", Method: http.MethodPost, Path: "/auth/register", Body: map[string]string{"email": email, "password": pass}, WantStatus: http.StatusCreated},
	}
	if verifyToken != "" {
		steps = append(steps,
			step{Name: "verify-email", Method: http.MethodGet, Path: "/auth/verify-email?token=" + verifyToken, WantStatus: http.StatusOK},
			step{Name: "login", Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": email, "password": pass}, WantStatus: http.StatusOK},
			step{Name: "me", Method: http.MethodGet, Path: "/auth/me", WantStatus: http.StatusOK},
			step{Name: "refresh", Method: http.MethodPost, Path: "/auth/refresh", WantStatus: http.StatusOK},
			step{Name: "logout", Method: http.MethodPost, Path: "/auth/logout", WantStatus: http.StatusOK},
			step{Name: "refresh-after-logout", Method: http.MethodPost, Path: "/auth/refresh", WantStatus: http.StatusUnauthorized},
		)
	} else {
		// Without a verification token the account stays pending; login
		// must be rejected as inactive.
		steps = append(steps,
			step{Name: "login-pending", Method: http.MethodPost, Path: "/auth/login", Body: map[string]string{"email": email, "password": pass}, WantStatus: http.StatusForbidden},
		)
	}

	failures := 0
	for _, s := range steps {
		status, err := run(client, base, s)
		switch {
		case err != nil:
			log.Printf("FAIL %-22s error: %v", s.Name, err)
			failures++
		case status != s.WantStatus:
			log.Printf("FAIL %-22s got %d want %d", s.Name, status, s.WantStatus)
			failures++
		default:
			log.Printf("ok   %-22s %d", s.Name, status)
		}
	}

	if failures > 0 {
		log.Printf("authflow: %d step(s) failed", failures)
		os.Exit(1)
	}
	log.Println("authflow: all steps passed")
}

func run(client *http.Client, base string, s step) (int, error) {
	var body *bytes.Reader
	if s.Body != nil {
		payload, err := json.Marshal(s.Body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(s.Method, base+s.Path, body)
	if err != nil {
		return 0, err
	}
	if s.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	// Redirects are outcomes here, not something to follow.
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}
