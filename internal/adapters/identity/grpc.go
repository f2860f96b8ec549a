package identity

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/dkeye/VoiceHub/internal/domain"
)

const (
	serviceName = "/authentication.TokenService/"

	RoleCustomer = "customer"
	RoleSeller   = "seller"

	tokenTypeAccess = 0
)

type tokenRequest struct {
	Token string `json:"token"`
	Type  int    `json:"type"`
}

type userInfo struct {
	AccountID  string   `json:"accountId"`
	Username   string   `json:"username"`
	Roles      []string `json:"roles"`
	IsActive   bool     `json:"isActive"`
	IsVerified bool     `json:"isVerified"`

	// profile calls only
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	SellerName string `json:"sellerName,omitempty"`
	AvatarURL  string `json:"avatarUrl,omitempty"`
}

type tokenResponse struct {
	IsValid  bool      `json:"isValid"`
	UserInfo *userInfo `json:"userInfo"`
}

// Client verifies tokens against the remote identity service.
type Client struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	opts = append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	log.Info().Str("module", "identity.grpc").Str("addr", addr).Msg("identity client ready")
	return &Client{conn: conn, timeout: timeout}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// method picks the RPC for a role: profile lookups return richer names.
func method(role string) string {
	switch role {
	case RoleCustomer:
		return serviceName + "GetCustomerProfile"
	case RoleSeller:
		return serviceName + "GetSellerProfile"
	default:
		return serviceName + "VerifyToken"
	}
}

func (c *Client) VerifyToken(ctx context.Context, token, role string) (*domain.Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp tokenResponse
	err := c.conn.Invoke(ctx, method(role), &tokenRequest{Token: token, Type: tokenTypeAccess}, &resp)
	if err != nil {
		return nil, mapError(err)
	}
	if !resp.IsValid || resp.UserInfo == nil {
		return nil, domain.ErrAuth
	}
	info := resp.UserInfo
	if !info.IsActive {
		return nil, domain.ErrAuth.Errorf("account is not active")
	}
	if role == "" && len(info.Roles) > 0 {
		role = info.Roles[0]
	}
	id, err := domain.NewIdentity(info.AccountID, displayName(info), role, info.Roles)
	if err != nil {
		return nil, domain.ErrAuth.Errorf("identity service returned no account id")
	}
	id.AvatarURL = info.AvatarURL
	return id, nil
}

func displayName(info *userInfo) string {
	if info.SellerName != "" {
		return info.SellerName
	}
	if full := strings.TrimSpace(info.FirstName + " " + info.LastName); full != "" {
		return full
	}
	return info.Username
}

func mapError(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.InvalidArgument, codes.NotFound, codes.PermissionDenied:
		return domain.ErrAuth.Errorf("%s", status.Convert(err).Message())
	case codes.DeadlineExceeded:
		return domain.Dependency("identity service timeout", err)
	}
	return domain.Dependency("identity service", err)
}
