package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
)

// ecrTimeout bounds loading the AWS config and the token request together
const ecrTimeout = 5 * time.Second

// ecrOptions is the parsed form of the provider options string
type ecrOptions struct {
	load        []func(*config.LoadOptions) error
	registryIds []string
}

// getECRToken gets an Elastic Container Registry authorization token using the
// AWS SDK default credential chain.
func getECRToken(ctx context.Context, options string) (string, error) {
	opts, err := parseECROptions(options)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, ecrTimeout)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(ctx, opts.load...)
	if err != nil {
		return "", fmt.Errorf("unable to load AWS config: %w", err)
	}
	out, err := ecr.NewFromConfig(awsCfg).GetAuthorizationToken(ctx, &ecr.GetAuthorizationTokenInput{
		RegistryIds: opts.registryIds,
	})
	if err != nil {
		return "", err
	}
	for _, data := range out.AuthorizationData {
		if data.AuthorizationToken != nil && *data.AuthorizationToken != "" {
			return *data.AuthorizationToken, nil
		}
	}
	return "", fmt.Errorf("ECR returned no authorization token")
}

// parseECROptions parses options like 'region=us-east-1,profile=dev,registry=123456789012'.
// 'registry' may be repeated.
func parseECROptions(options string) (ecrOptions, error) {
	opts := ecrOptions{}
	if strings.TrimSpace(options) == "" {
		return opts, nil
	}
	for opt := range strings.SplitSeq(options, ",") {
		key, val, ok := strings.Cut(opt, "=")
		key, val = strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(val)
		if !ok || val == "" {
			return ecrOptions{}, fmt.Errorf("ECR provider option %q is not key=value", opt)
		}
		switch key {
		case "profile":
			opts.load = append(opts.load, config.WithSharedConfigProfile(val))
		case "region":
			opts.load = append(opts.load, config.WithRegion(strings.ToLower(val)))
		case "registry":
			opts.registryIds = append(opts.registryIds, val)
		default:
			return ecrOptions{}, fmt.Errorf("unknown ECR provider option %q", key)
		}
	}
	return opts, nil
}
