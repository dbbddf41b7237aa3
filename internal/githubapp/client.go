package githubapp

import (
	"context"
	"net/http"

	"github.com/bradleyfalzon/ghinstallation/v2"
	"github.com/google/go-github/v75/github"
)

type Clients struct {
	REST *github.Client
	HTTP *http.Client
}

// NewClients creates an installation-scoped client for a given installation ID.
func NewClients(appID int64, installationID int64, pem []byte) (*Clients, error) {
	tr := http.DefaultTransport
	itr, err := ghinstallation.New(tr, appID, installationID, pem)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: itr}
	return &Clients{
		REST: github.NewClient(httpClient),
		HTTP: httpClient,
	}, nil
}

// NewAppClients creates an app-scoped client (JWT auth). Only the Apps
// endpoints (listing installations, minting tokens) accept it.
func NewAppClients(appID int64, pem []byte) (*Clients, error) {
	atr, err := ghinstallation.NewAppsTransport(http.DefaultTransport, appID, pem)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Transport: atr}
	return &Clients{
		REST: github.NewClient(httpClient),
		HTTP: httpClient,
	}, nil
}

// InstallationToken mints a short-lived token for git-over-HTTPS pushes.
func InstallationToken(ctx context.Context, appID, installationID int64, pem []byte) (string, error) {
	itr, err := ghinstallation.New(http.DefaultTransport, appID, installationID, pem)
	if err != nil {
		return "", err
	}
	return itr.Token(ctx)
}
