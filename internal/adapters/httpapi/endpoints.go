package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"

	"github.com/paralyuzov/raven-client/internal/domain"
)

const (
	pathLogin          = "/auth/login"
	pathSignup         = "/auth/signup"
	pathLogout         = "/auth/logout"
	pathVerify         = "/auth/verify"
	pathProfile        = "/auth/profile"
	pathFriends        = "/friends/get-friends"
	pathPendingFriends = "/friends/pending-requests"
	pathSendRequest    = "/friends/send-request"
	pathAcceptRequest  = "/friends/accept-request"
	pathRejectRequest  = "/friends/reject-request"
	pathMessages       = "/messages/get-messages"
	pathUploadMedia    = "/upload/media"
)

type userEnvelope struct {
	User domain.User `json:"user"`
}

func (g *Gateway) Login(ctx context.Context, creds domain.LoginRequest) (domain.LoginResponse, error) {
	req, err := jsonRequest(http.MethodPost, pathLogin, creds)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	req.NoRefresh = true

	resp, err := DecodeJSON[domain.LoginResponse](ctx, g, req)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	if resp.AccessToken == "" {
		return domain.LoginResponse{}, errors.New("login response missing access token")
	}
	return resp, nil
}

func (g *Gateway) Register(ctx context.Context, user domain.RegisterRequest) (domain.RegisterResponse, error) {
	req, err := jsonRequest(http.MethodPost, pathSignup, user)
	if err != nil {
		return domain.RegisterResponse{}, err
	}
	req.NoRefresh = true
	return DecodeJSON[domain.RegisterResponse](ctx, g, req)
}

func (g *Gateway) Logout(ctx context.Context) error {
	_, err := g.Post(ctx, pathLogout, nil)
	return err
}

// Verify returns the user the current access token belongs to.
func (g *Gateway) Verify(ctx context.Context) (domain.User, error) {
	envelope, err := DecodeJSON[userEnvelope](ctx, g, Request{Method: http.MethodGet, Path: pathVerify})
	return envelope.User, err
}

func (g *Gateway) UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error) {
	req, err := jsonRequest(http.MethodPut, pathProfile, update)
	if err != nil {
		return domain.User{}, err
	}
	envelope, err := DecodeJSON[userEnvelope](ctx, g, req)
	return envelope.User, err
}

func (g *Gateway) Contacts(ctx context.Context) ([]domain.Contact, error) {
	return DecodeJSON[[]domain.Contact](ctx, g, Request{Method: http.MethodGet, Path: pathFriends})
}

func (g *Gateway) PendingFriendRequests(ctx context.Context) ([]domain.FriendRequest, error) {
	return DecodeJSON[[]domain.FriendRequest](ctx, g, Request{Method: http.MethodGet, Path: pathPendingFriends})
}

func (g *Gateway) SendFriendRequest(ctx context.Context, receiverID string) error {
	if receiverID == "" {
		return errors.New("receiver id is required")
	}
	_, err := g.Post(ctx, pathSendRequest, map[string]string{"receiverId": receiverID})
	return err
}

// AcceptFriendRequest accepts the pending request sent by friendID.
func (g *Gateway) AcceptFriendRequest(ctx context.Context, friendID string) error {
	_, err := g.Post(ctx, pathAcceptRequest, map[string]string{"friendId": friendID})
	return err
}

func (g *Gateway) RejectFriendRequest(ctx context.Context, friendID string) error {
	_, err := g.Post(ctx, pathRejectRequest, map[string]string{"friendId": friendID})
	return err
}

func (g *Gateway) Messages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	if conversationID == "" {
		return nil, errors.New("conversation id is required")
	}
	query := url.Values{}
	query.Set("conversationId", conversationID)
	return DecodeJSON[[]domain.Message](ctx, g, Request{Method: http.MethodGet, Path: pathMessages, Query: query})
}

type uploadEnvelope struct {
	Data struct {
		FileURL          string `json:"fileUrl"`
		OriginalFileName string `json:"originalFileName"`
	} `json:"data"`
}

// UploadMedia posts a file as multipart form data. progress, when set,
// receives the upload percentage.
func (g *Gateway) UploadMedia(ctx context.Context, filename string, content io.Reader, progress func(percent int)) (domain.UploadedFile, error) {
	if filename == "" {
		return domain.UploadedFile{}, errors.New("file name is required")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return domain.UploadedFile{}, fmt.Errorf("create upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("read upload %s: %w", filename, err)
	}
	if err := form.Close(); err != nil {
		return domain.UploadedFile{}, fmt.Errorf("close upload form: %w", err)
	}

	envelope, err := DecodeJSON[uploadEnvelope](ctx, g, Request{
		Method:      http.MethodPost,
		Path:        pathUploadMedia,
		Body:        body.Bytes(),
		ContentType: form.FormDataContentType(),
		Progress:    progress,
	})
	if err != nil {
		return domain.UploadedFile{}, err
	}
	if envelope.Data.FileURL == "" {
		return domain.UploadedFile{}, errors.New("upload response missing file url")
	}

	return domain.UploadedFile{URL: envelope.Data.FileURL, Filename: envelope.Data.OriginalFileName}, nil
}
