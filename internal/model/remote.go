package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"recon3d/internal/device"
	"recon3d/internal/imageio"
)

// RemoteName is the registry name of the HTTP inference-server backend.
const RemoteName = "remote"

// RemoteOptions configure the remote backend.
type RemoteOptions struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	ConnectTimeout time.Duration
}

// remoteBackend talks to an inference server that runs the network and keeps
// aggregated tokens server-side behind an opaque handle.
//
//	GET    /v1/health
//	POST   /v1/stages/aggregate   {images, device, precision} -> {tokens, views}
//	POST   /v1/stages/camera      {tokens}                    -> {pose_enc}
//	POST   /v1/stages/depth       {tokens}                    -> {depth, depth_conf}
//	POST   /v1/stages/points      {tokens}                    -> {world_points, world_points_conf}
//	POST   /v1/stages/track       {tokens, query_points}      -> {track, vis, conf}
//	DELETE /v1/tokens/{id}
type remoteBackend struct {
	opts       RemoteOptions
	httpClient *http.Client
}

// NewRemoteBackend constructs a server-backed backend.
func NewRemoteBackend(opts RemoteOptions) Backend {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Minute
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	// Timeout=0: every request carries a context deadline instead.
	return &remoteBackend{opts: opts, httpClient: &http.Client{Transport: tr, Timeout: 0}}
}

func (b *remoteBackend) Name() string { return RemoteName }

func (b *remoteBackend) RequiredFiles(device.Precision) []string { return nil }

func (b *remoteBackend) Open(ctx context.Context, weightsDir string, sel device.Selection) (Session, error) {
	if b.opts.BaseURL == "" {
		return nil, errors.New("remote backend: base URL is empty")
	}
	hctx, cancel := context.WithTimeout(ctx, b.opts.ConnectTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(hctx, http.MethodGet, b.opts.BaseURL+"/v1/health", nil)
	if err != nil {
		return nil, err
	}
	b.authorize(req)
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, ErrDependencyUnavailable("inference server unreachable: " + err.Error())
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ErrDependencyUnavailable("inference server unhealthy: " + resp.Status)
	}
	return &remoteSession{b: b, sel: sel}, nil
}

func (b *remoteBackend) authorize(req *http.Request) {
	if b.opts.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.opts.APIKey)
	}
}

// WireTensor is the JSON form of a float32 tensor: shape plus base64 of the
// little-endian values.
type WireTensor struct {
	Shape []int64 `json:"shape"`
	DType string  `json:"dtype"`
	Data  string  `json:"data"`
}

// EncodeTensor packs values with the given shape.
func EncodeTensor(shape []int64, values []float32) WireTensor {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return WireTensor{Shape: append([]int64(nil), shape...), DType: "float32", Data: base64.StdEncoding.EncodeToString(buf)}
}

// Decode unpacks the values and checks them against the shape.
func (t WireTensor) Decode() ([]float32, error) {
	if t.DType != "" && t.DType != "float32" {
		return nil, fmt.Errorf("unsupported dtype %q", t.DType)
	}
	raw, err := base64.StdEncoding.DecodeString(t.Data)
	if err != nil {
		return nil, fmt.Errorf("tensor data: %w", err)
	}
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("tensor data length %d is not a multiple of 4", len(raw))
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	if int64(len(raw)/4) != n {
		return nil, ErrShapeMismatch(fmt.Sprintf("tensor shape %v holds %d values, got %d", t.Shape, n, len(raw)/4))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}

// Wire payloads of the remote protocol.
type (
	AggregateRequest struct {
		Images    WireTensor `json:"images"`
		Device    string     `json:"device"`
		Precision string     `json:"precision"`
	}
	AggregateResponse struct {
		Tokens string `json:"tokens"`
		Views  int    `json:"views"`
	}
	StageRequest struct {
		Tokens      string       `json:"tokens"`
		QueryPoints [][2]float64 `json:"query_points,omitempty"`
	}
	CameraResponse struct {
		PoseEnc WireTensor `json:"pose_enc"`
	}
	DepthResponse struct {
		Depth WireTensor `json:"depth"`
		Conf  WireTensor `json:"depth_conf"`
	}
	PointsResponse struct {
		Points WireTensor `json:"world_points"`
		Conf   WireTensor `json:"world_points_conf"`
	}
	TrackResponse struct {
		Track      WireTensor `json:"track"`
		Visibility WireTensor `json:"vis"`
		Confidence WireTensor `json:"conf"`
	}
)

type remoteSession struct {
	b   *remoteBackend
	sel device.Selection
}

type remoteTokens struct {
	owner *remoteSession
	id    string
	views int
}

func (t *remoteTokens) Views() int { return t.views }

func (t *remoteTokens) Release() error {
	if t.id == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.owner.b.opts.BaseURL+"/v1/tokens/"+t.id, nil)
	if err != nil {
		return err
	}
	t.owner.b.authorize(req)
	resp, err := t.owner.b.httpClient.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	t.id = ""
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("release tokens: %s", resp.Status)
	}
	return nil
}

func (s *remoteSession) own(tok Tokens) (*remoteTokens, error) {
	rt, ok := tok.(*remoteTokens)
	if !ok || rt.owner != s {
		return nil, ErrForeignTokens
	}
	if rt.id == "" {
		return nil, errors.New("tokens already released")
	}
	return rt, nil
}

// post sends body as JSON to path and decodes the response into out.
func (s *remoteSession) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.b.opts.RequestTimeout)
	defer cancel()
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.b.opts.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	s.b.authorize(req)
	resp, err := s.b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		return ErrDependencyUnavailable("inference server unavailable: " + resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("inference server http error: %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func (s *remoteSession) Aggregate(ctx context.Context, batch *imageio.Batch) (Tokens, error) {
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	var resp AggregateResponse
	req := AggregateRequest{
		Images:    EncodeTensor(batch.Shape(), batch.Data),
		Device:    string(s.sel.Device),
		Precision: string(s.sel.Precision),
	}
	if err := s.post(ctx, "/v1/stages/aggregate", req, &resp); err != nil {
		return nil, err
	}
	if resp.Tokens == "" {
		return nil, errors.New("inference server returned no token handle")
	}
	tok := &remoteTokens{owner: s, id: resp.Tokens, views: resp.Views}
	if resp.Views != batch.Views {
		// The handle never reaches the caller, so free it here.
		_ = tok.Release()
		return nil, ErrShapeMismatch(fmt.Sprintf("server aggregated %d views, sent %d", resp.Views, batch.Views))
	}
	return tok, nil
}

func (s *remoteSession) Camera(ctx context.Context, tok Tokens) (PoseEncoding, error) {
	rt, err := s.own(tok)
	if err != nil {
		return PoseEncoding{}, err
	}
	var resp CameraResponse
	if err := s.post(ctx, "/v1/stages/camera", StageRequest{Tokens: rt.id}, &resp); err != nil {
		return PoseEncoding{}, err
	}
	data, err := resp.PoseEnc.Decode()
	if err != nil {
		return PoseEncoding{}, fmt.Errorf("pose_enc: %w", err)
	}
	return PoseEncoding{Views: rt.views, Data: data}, nil
}

func (s *remoteSession) Depth(ctx context.Context, tok Tokens, batch *imageio.Batch) (DepthOutput, error) {
	rt, err := s.own(tok)
	if err != nil {
		return DepthOutput{}, err
	}
	var resp DepthResponse
	if err := s.post(ctx, "/v1/stages/depth", StageRequest{Tokens: rt.id}, &resp); err != nil {
		return DepthOutput{}, err
	}
	depth, err := resp.Depth.Decode()
	if err != nil {
		return DepthOutput{}, fmt.Errorf("depth: %w", err)
	}
	conf, err := resp.Conf.Decode()
	if err != nil {
		return DepthOutput{}, fmt.Errorf("depth_conf: %w", err)
	}
	return DepthOutput{Views: batch.Views, Height: batch.Height, Width: batch.Width, Depth: depth, Conf: conf}, nil
}

func (s *remoteSession) Points(ctx context.Context, tok Tokens, batch *imageio.Batch) (PointOutput, error) {
	rt, err := s.own(tok)
	if err != nil {
		return PointOutput{}, err
	}
	var resp PointsResponse
	if err := s.post(ctx, "/v1/stages/points", StageRequest{Tokens: rt.id}, &resp); err != nil {
		return PointOutput{}, err
	}
	pts, err := resp.Points.Decode()
	if err != nil {
		return PointOutput{}, fmt.Errorf("world_points: %w", err)
	}
	conf, err := resp.Conf.Decode()
	if err != nil {
		return PointOutput{}, fmt.Errorf("world_points_conf: %w", err)
	}
	return PointOutput{Views: batch.Views, Height: batch.Height, Width: batch.Width, Points: pts, Conf: conf}, nil
}

func (s *remoteSession) Track(ctx context.Context, tok Tokens, batch *imageio.Batch, queries []Query) (TrackOutput, error) {
	rt, err := s.own(tok)
	if err != nil {
		return TrackOutput{}, err
	}
	req := StageRequest{Tokens: rt.id, QueryPoints: make([][2]float64, len(queries))}
	for i, q := range queries {
		req.QueryPoints[i] = [2]float64{q.X, q.Y}
	}
	var resp TrackResponse
	if err := s.post(ctx, "/v1/stages/track", req, &resp); err != nil {
		return TrackOutput{}, err
	}
	out := TrackOutput{Views: batch.Views, Queries: len(queries)}
	if out.Tracks, err = resp.Track.Decode(); err != nil {
		return TrackOutput{}, fmt.Errorf("track: %w", err)
	}
	if out.Visibility, err = resp.Visibility.Decode(); err != nil {
		return TrackOutput{}, fmt.Errorf("vis: %w", err)
	}
	if out.Confidence, err = resp.Confidence.Decode(); err != nil {
		return TrackOutput{}, fmt.Errorf("conf: %w", err)
	}
	return out, nil
}

func (s *remoteSession) Close() error { return nil }
