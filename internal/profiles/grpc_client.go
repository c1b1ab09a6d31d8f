package profiles

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"marketplace-messaging/internal/models"
	"marketplace-messaging/internal/observability"
)

var ErrProfileNotFound = errors.New("profile not found")

const (
	ServiceName      = "users.UserInternal"
	getProfileMethod = "/" + ServiceName + "/GetProfile"
	getAdminMethod   = "/" + ServiceName + "/GetAdminProfile"
)

// Lookup resolves user ids to display profiles.
type Lookup interface {
	GetProfile(ctx context.Context, userID string) (models.Profile, error)
	GetAdmin(ctx context.Context) (models.Profile, error)
}

// GRPCClient calls the user service. Requests and responses are protobuf
// well-known types, so no generated stubs are needed.
type GRPCClient struct {
	conn grpc.ClientConnInterface
}

// NewGRPCClient constructs the wrapper.
func NewGRPCClient(conn grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{conn: conn}
}

// Dial connects to the user service with tracing and metrics attached.
func Dial(addr string) (*grpc.ClientConn, error) {
	return grpc.Dial(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(observability.GRPCClientMetricsUnaryInterceptor()),
	)
}

// GetProfile fetches a user's display profile.
func (c *GRPCClient) GetProfile(ctx context.Context, userID string) (models.Profile, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getProfileMethod, wrapperspb.String(userID), resp); err != nil {
		return models.Profile{}, translate(err)
	}
	return profileFromStruct(resp)
}

// GetAdmin fetches the marketplace admin's profile.
func (c *GRPCClient) GetAdmin(ctx context.Context) (models.Profile, error) {
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, getAdminMethod, &emptypb.Empty{}, resp); err != nil {
		return models.Profile{}, translate(err)
	}
	return profileFromStruct(resp)
}

func translate(err error) error {
	if status.Code(err) == codes.NotFound {
		return ErrProfileNotFound
	}
	return err
}

func profileFromStruct(s *structpb.Struct) (models.Profile, error) {
	fields := s.GetFields()
	p := models.Profile{
		ID:        fields["id"].GetStringValue(),
		FullName:  fields["full_name"].GetStringValue(),
		AvatarURL: fields["avatar_url"].GetStringValue(),
		Role:      models.Role(fields["role"].GetStringValue()),
	}
	if p.ID == "" {
		return models.Profile{}, fmt.Errorf("%w: empty id in response", ErrProfileNotFound)
	}
	return p, nil
}

// ProfileStruct encodes a profile the way the user service returns it.
func ProfileStruct(p models.Profile) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"id":         structpb.NewStringValue(p.ID),
		"full_name":  structpb.NewStringValue(p.FullName),
		"avatar_url": structpb.NewStringValue(p.AvatarURL),
		"role":       structpb.NewStringValue(string(p.Role)),
	}}
}
