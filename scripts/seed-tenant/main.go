package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TenantFile is the on-disk shape of a clinic. Documents are joined into the
// knowledge base the assistant answers questions from.
type TenantFile struct {
	Key        string     `json:"key"`
	Name       string     `json:"name"`
	CalendarID string     `json:"calendar_id"`
	Phone      string     `json:"phone"`
	Timezone   string     `json:"timezone"`
	Documents  []Document `json:"documents"`
}

type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type tenantRequest struct {
	Name          string `json:"name"`
	KnowledgeBase string `json:"knowledge_base,omitempty"`
	CalendarID    string `json:"calendar_id,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Timezone      string `json:"timezone,omitempty"`
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/seed-tenant <tenant-file.json>")
		fmt.Println("Example: go run ./scripts/seed-tenant testdata/sample-tenant.json")
		os.Exit(1)
	}

	apiURL := os.Getenv("API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080"
	}
	secret := os.Getenv("ADMIN_JWT_SECRET")
	if secret == "" {
		fmt.Println("Error: ADMIN_JWT_SECRET environment variable not set")
		os.Exit(1)
	}

	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Printf("Error reading file: %v\n", err)
		os.Exit(1)
	}
	var tenant TenantFile
	if err := json.Unmarshal(data, &tenant); err != nil {
		fmt.Printf("Error parsing JSON: %v\n", err)
		os.Exit(1)
	}
	if tenant.Key == "" || tenant.Name == "" {
		fmt.Println("Error: key and name are required")
		os.Exit(1)
	}

	fmt.Printf("Seeding tenant %s (%s) with %d documents\n", tenant.Key, tenant.Name, len(tenant.Documents))

	body, _ := json.Marshal(tenantRequest{
		Name:          tenant.Name,
		KnowledgeBase: knowledgeBase(tenant.Documents),
		CalendarID:    tenant.CalendarID,
		Phone:         tenant.Phone,
		Timezone:      tenant.Timezone,
	})

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "seed-tenant",
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(10 * time.Minute)),
	}).SignedString([]byte(secret))
	if err != nil {
		fmt.Printf("Error signing token: %v\n", err)
		os.Exit(1)
	}

	req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/admin/tenants/%s", apiURL, url.PathEscape(tenant.Key)), bytes.NewReader(body))
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error calling API: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error: HTTP %d: %s\n", resp.StatusCode, string(respBody))
		os.Exit(1)
	}
	fmt.Println("Tenant saved.")
}

func knowledgeBase(docs []Document) string {
	var b strings.Builder
	for _, d := range docs {
		content := strings.TrimSpace(d.Content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		if d.Title != "" {
			b.WriteString("## " + d.Title + "\n")
		}
		b.WriteString(content)
	}
	return b.String()
}
