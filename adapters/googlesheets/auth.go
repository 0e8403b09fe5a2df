package googlesheets

import (
	"context"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// Credentials selects how the adaptor authenticates. The first non-empty
// source wins: Email+PrivateKey, KeyJSON, KeyFile, the
// GOOGLE_APPLICATION_CREDENTIALS file, then Application Default Credentials.
type Credentials struct {
	KeyFile    string `yaml:"key_file"`
	KeyJSON    string `yaml:"key_json"`
	Email      string `yaml:"email"`
	PrivateKey string `yaml:"private_key"`
}

// ServiceAccountKey is the subset of a service account JSON key we check
type ServiceAccountKey struct {
	Type         string `json:"type"`
	ProjectID    string `json:"project_id"`
	PrivateKeyID string `json:"private_key_id"`
	PrivateKey   string `json:"private_key"`
	ClientEmail  string `json:"client_email"`
	TokenURI     string `json:"token_uri"`
}

// Open creates an adaptor authenticated with creds
func Open(ctx context.Context, config Config, creds Credentials, opts ...option.ClientOption) (*SheetsAdaptor, error) {
	ts, err := TokenSource(ctx, creds)
	if err != nil {
		return nil, err
	}
	return NewSheetsAdaptor(ctx, config, append([]option.ClientOption{option.WithTokenSource(ts)}, opts...)...)
}

// TokenSource builds an oauth2.TokenSource for the Sheets scope
func TokenSource(ctx context.Context, creds Credentials) (oauth2.TokenSource, error) {
	switch {
	case creds.Email != "" && creds.PrivateKey != "":
		return serviceAccountTokenSource(ctx, creds.Email, creds.PrivateKey), nil
	case creds.KeyJSON != "":
		return tokenSourceFromJSON(ctx, []byte(creds.KeyJSON))
	}

	path := creds.KeyFile
	if path == "" {
		path = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	if path != "" {
		jsonData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON key file: %w", err)
		}
		return tokenSourceFromJSON(ctx, jsonData)
	}

	// gcloud application-default credentials or the GCE metadata service
	ts, err := google.DefaultTokenSource(ctx, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to get default token source: %w", err)
	}
	return ts, nil
}

func tokenSourceFromJSON(ctx context.Context, jsonData []byte) (oauth2.TokenSource, error) {
	if _, err := ParseServiceAccountJSON(jsonData); err != nil {
		return nil, err
	}
	creds, err := google.CredentialsFromJSON(ctx, jsonData, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credentials: %w", err)
	}
	return creds.TokenSource, nil
}

func serviceAccountTokenSource(ctx context.Context, email, privateKey string) oauth2.TokenSource {
	jwtConfig := &jwt.Config{
		Email:      email,
		PrivateKey: []byte(privateKey),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	return jwtConfig.TokenSource(ctx)
}

// ParseServiceAccountJSON parses a service account JSON key
func ParseServiceAccountJSON(jsonData []byte) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal(jsonData, &key); err != nil {
		return nil, fmt.Errorf("failed to parse service account JSON: %w", err)
	}

	if key.Type != "service_account" {
		return nil, fmt.Errorf("invalid key type: %s (expected: service_account)", key.Type)
	}

	if key.ClientEmail == "" || key.PrivateKey == "" {
		return nil, fmt.Errorf("missing required fields in service account key")
	}

	return &key, nil
}
