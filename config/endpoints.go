package config

import (
	"strings"

	"github.com/WepinWallet/wepin-widget-sdk-go/wepinerr"
)

// Environment is the Wepin deployment an app key belongs to.
type Environment string

const (
	EnvDev   Environment = "dev"
	EnvStage Environment = "stage"
	EnvProd  Environment = "prod"
)

// Endpoints are the base URLs the SDK talks to.
type Endpoints struct {
	Environment Environment
	WidgetURL   string
	BackendURL  string
	IdentityURL string
}

// EnvironmentForAppKey derives the deployment from the app key prefix.
func EnvironmentForAppKey(appKey string) (Environment, error) {
	switch {
	case strings.HasPrefix(appKey, "ak_dev_"):
		return EnvDev, nil
	case strings.HasPrefix(appKey, "ak_stage_"):
		return EnvStage, nil
	case strings.HasPrefix(appKey, "ak_prod_"):
		return EnvProd, nil
	}
	return "", wepinerr.ErrInvalidAppKey
}

// EndpointsForAppKey returns the default endpoints for appKey's deployment.
func EndpointsForAppKey(appKey string) (Endpoints, error) {
	env, err := EnvironmentForAppKey(appKey)
	if err != nil {
		return Endpoints{}, err
	}
	host := ""
	switch env {
	case EnvDev:
		host = "dev-"
	case EnvStage:
		host = "stage-"
	}
	return Endpoints{
		Environment: env,
		WidgetURL:   "https://" + host + "v1-widget.wepin.io/",
		BackendURL:  "https://" + host + "sdk.wepin.io/v1/",
	}, nil
}

// Endpoints resolves the configured endpoints, letting explicit URLs override derived ones.
func (c *Config) Endpoints() (Endpoints, error) {
	ep, err := EndpointsForAppKey(c.App.AppKey)
	if err != nil {
		return Endpoints{}, err
	}
	if c.Network.WidgetURL != "" {
		ep.WidgetURL = c.Network.WidgetURL
	}
	if c.Network.BackendURL != "" {
		ep.BackendURL = c.Network.BackendURL
	}
	ep.IdentityURL = c.Network.IdentityURL
	return ep, nil
}
