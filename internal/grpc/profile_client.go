package grpc

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

// Profile is the resolved identity metadata for a peer address.
type Profile struct {
	Address     string
	DisplayName string
	AvatarURL   string
}

const (
	profileService         = "profile.v1.ProfileService"
	methodBulkProfiles     = "/" + profileService + "/BulkProfiles"
	methodSenderReputation = "/" + profileService + "/SenderReputation"
)

// ProfileClient wraps the profile-service gRPC API. The service speaks
// structpb payloads, so no generated stubs are vendored here.
type ProfileClient struct {
	conn grpc.ClientConnInterface
}

// NewProfileClient constructs the wrapper.
func NewProfileClient(conn grpc.ClientConnInterface) *ProfileClient {
	return &ProfileClient{conn: conn}
}

// WaitReady gates on the standard gRPC health service.
func (c *ProfileClient) WaitReady(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: profileService})
	if err != nil {
		return fmt.Errorf("profile health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("profile service not serving: %s", resp.GetStatus())
	}
	return nil
}

// BulkProfiles resolves display names for multiple addresses in one call.
func (c *ProfileClient) BulkProfiles(ctx context.Context, addresses []string) (map[string]Profile, error) {
	if len(addresses) == 0 {
		return map[string]Profile{}, nil
	}
	req, err := structpb.NewStruct(map[string]interface{}{"addresses": toValues(addresses)})
	if err != nil {
		return nil, err
	}
	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, methodBulkProfiles, req, &resp); err != nil {
		return nil, err
	}

	list := resp.GetFields()["profiles"].GetListValue()
	if list == nil {
		return nil, errors.New("profile response missing profiles")
	}
	profiles := make(map[string]Profile, len(list.GetValues()))
	for _, val := range list.GetValues() {
		fields := val.GetStructValue().GetFields()
		address := fields["address"].GetStringValue()
		if address == "" {
			continue
		}
		profiles[address] = Profile{
			Address:     address,
			DisplayName: fields["display_name"].GetStringValue(),
			AvatarURL:   fields["avatar_url"].GetStringValue(),
		}
	}
	return profiles, nil
}

// SenderReputation fetches the server-side reputation score per address;
// the base input for conversation spam scoring.
func (c *ProfileClient) SenderReputation(ctx context.Context, addresses []string) (map[string]int, error) {
	if len(addresses) == 0 {
		return map[string]int{}, nil
	}
	req, err := structpb.NewStruct(map[string]interface{}{"addresses": toValues(addresses)})
	if err != nil {
		return nil, err
	}
	var resp structpb.Struct
	if err := c.conn.Invoke(ctx, methodSenderReputation, req, &resp); err != nil {
		return nil, err
	}

	fields := resp.GetFields()["scores"].GetStructValue().GetFields()
	scores := make(map[string]int, len(fields))
	for address, val := range fields {
		scores[address] = int(val.GetNumberValue())
	}
	return scores, nil
}

func toValues(values []string) []interface{} {
	out := make([]interface{}, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
