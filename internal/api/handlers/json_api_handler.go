package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"greendrake/tutormatch/internal/apperr"
	"greendrake/tutormatch/internal/auth"
	"greendrake/tutormatch/internal/config"
	"greendrake/tutormatch/internal/models"
	"greendrake/tutormatch/internal/services"
)

// Context key type for the resolved actor
type authContextKey string

const actorKey authContextKey = "actor"

// Helper to get the actor from context
func getActorFromContext(ctx context.Context) (models.Actor, bool) {
	val, ok := ctx.Value(actorKey).(models.Actor)
	return val, ok
}

// JsonApiRequest defines the expected structure for JSON API requests.
type JsonApiRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// JsonApiResponse defines the structure for JSON API responses.
type JsonApiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

// apiMethodFunc defines the signature for handler methods.
type apiMethodFunc func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError)

// JsonApiHandler holds dependencies for handling JSON API requests.
type JsonApiHandler struct {
	cfg                *config.Config
	postService        services.IPostService
	applicationService services.IApplicationService
	logger             *zap.Logger
	methods            map[string]apiMethodFunc
}

// NewJsonApiHandler creates a new handler for the JSON API endpoint.
func NewJsonApiHandler(
	cfg *config.Config,
	postService services.IPostService,
	applicationService services.IApplicationService,
	logger *zap.Logger,
) *JsonApiHandler {
	h := &JsonApiHandler{
		cfg:                cfg,
		postService:        postService,
		applicationService: applicationService,
		logger:             logger,
	}
	h.methods = map[string]apiMethodFunc{
		"ping":                 h.ping,
		"createPost":           h.createPost,
		"updatePost":           h.updatePost,
		"publishPost":          h.postAction("publishPost", services.IPostService.PublishPost),
		"closePost":            h.postAction("closePost", services.IPostService.ClosePost),
		"reopenPost":           h.postAction("reopenPost", services.IPostService.ReopenPost),
		"fulfillPost":          h.postAction("fulfillPost", services.IPostService.FulfillPost),
		"deletePost":           h.deletePost,
		"submitApplication":    h.submitApplication,
		"shortlistApplication": h.applicationAction(models.ActionShortlist),
		"acceptApplication":    h.applicationAction(models.ActionAccept),
		"rejectApplication":    h.rejectApplication,
		"decideApplication":    h.decideApplication,
	}
	return h
}

// HandleRequest is the main entry point for POST /v1/api
func (h *JsonApiHandler) HandleRequest(c *gin.Context) {
	bodyBytes, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.sendErrorResponse(c, NewApiError("Failed to read request body"))
		return
	}

	var req JsonApiRequest
	if err := json.Unmarshal(bodyBytes, &req); err != nil {
		h.sendErrorResponse(c, NewApiError("Invalid JSON request format"))
		return
	}

	handlerFunc, ok := h.methods[req.Method]
	if !ok {
		h.sendErrorResponse(c, NewApiError(fmt.Sprintf("Unknown method: %s", req.Method)))
		return
	}

	if authErr := h.checkAuthForMethod(c, req.Method); authErr != nil {
		h.sendErrorResponse(c, authErr)
		return
	}

	result, apiErr := handlerFunc(c, req.Arguments)
	if apiErr != nil {
		h.sendErrorResponse(c, apiErr)
		return
	}

	h.sendSuccessResponse(c, result)
}

// checkAuthForMethod validates the bearer token of authenticated methods and
// stores the resulting actor in c.Request.Context().
func (h *JsonApiHandler) checkAuthForMethod(c *gin.Context, method string) *ApiError {
	if !h.methodRequiresAuth(method) {
		return nil
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return newCodedApiError(apperr.KindAuthorization, "Authorization header required")
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return newCodedApiError(apperr.KindAuthorization, "Authorization header format must be Bearer {token}")
	}
	claims, err := auth.ValidateJWT(parts[1], h.cfg.JwtSecret)
	if err != nil {
		h.logger.Debug("token validation failed", zap.String("method", method), zap.Error(err))
		return newCodedApiError(apperr.KindAuthorization, "Invalid or expired token")
	}
	actor, err := claims.Actor()
	if err != nil {
		h.logger.Warn("valid token with unknown role", zap.String("user_id", claims.UserID), zap.Error(err))
		return newCodedApiError(apperr.KindAuthorization, "Invalid or expired token")
	}

	ctx := context.WithValue(c.Request.Context(), actorKey, actor)
	c.Request = c.Request.WithContext(ctx)
	return nil
}

// methodRequiresAuth checks if a given API method requires authentication.
func (h *JsonApiHandler) methodRequiresAuth(method string) bool {
	return method != "ping"
}

// --- Private helper methods ---

func (h *JsonApiHandler) sendSuccessResponse(c *gin.Context, data interface{}) {
	resp := JsonApiResponse{Success: true, Data: data}
	c.JSON(http.StatusOK, resp)
}

func (h *JsonApiHandler) sendErrorResponse(c *gin.Context, apiErr *ApiError) {
	resp := JsonApiResponse{Success: false, Error: apiErr.Message, Code: apiErr.Code}
	c.JSON(http.StatusOK, resp)
}

// fromServiceError converts a service error into the response error, logging
// anything that is not a caller mistake.
func (h *JsonApiHandler) fromServiceError(method string, err error) *ApiError {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal {
		h.logger.Error("json api method failed", zap.String("method", method), zap.Error(err))
		return newCodedApiError(kind, "Internal error")
	}
	h.logger.Debug("json api method rejected", zap.String("method", method), zap.Error(err))
	return newCodedApiError(kind, apperr.MessageOf(err))
}

func (h *JsonApiHandler) requireActor(c *gin.Context) (models.Actor, *ApiError) {
	actor, ok := getActorFromContext(c.Request.Context())
	if !ok {
		return models.Actor{}, newCodedApiError(apperr.KindAuthorization, "Authentication required")
	}
	return actor, nil
}

// --- API Method Implementations ---

func (h *JsonApiHandler) ping(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	return "pong", nil
}

type ApiError struct {
	Message string
	Code    string
}

func (e *ApiError) Error() string {
	return e.Message
}

func NewApiError(message string) *ApiError {
	return &ApiError{Message: message, Code: apperr.KindValidation.String()}
}

func newCodedApiError(kind apperr.Kind, message string) *ApiError {
	return &ApiError{Message: message, Code: kind.String()}
}

func (h *JsonApiHandler) createPost(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs services.CreatePostInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	post, err := h.postService.CreatePost(c.Request.Context(), actor, reqArgs)
	if err != nil {
		return nil, h.fromServiceError("createPost", err)
	}
	h.logger.Info("post created", zap.String("post_id", post.ID), zap.String("owner_id", post.OwnerID))
	return post, nil
}

// UpdatePostArgs defines the arguments for the updatePost method.
type UpdatePostArgs struct {
	PostID string `json:"post_id"`
	models.PostUpdate
}

func (h *JsonApiHandler) updatePost(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs UpdatePostArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.PostID) == "" {
		return nil, NewApiError("post_id is required")
	}

	post, err := h.postService.UpdatePost(c.Request.Context(), reqArgs.PostID, actor, reqArgs.PostUpdate)
	if err != nil {
		return nil, h.fromServiceError("updatePost", err)
	}
	return post, nil
}

type postActionFunc func(s services.IPostService, ctx context.Context, postID string, actor models.Actor) (*models.Post, error)

// postAction builds an owner action taking a single post id argument.
func (h *JsonApiHandler) postAction(method string, action postActionFunc) apiMethodFunc {
	return func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
		actor, apiErr := h.requireActor(c)
		if apiErr != nil {
			return nil, apiErr
		}
		postID, apiErr := h.parseIDArg(args, "post id")
		if apiErr != nil {
			return nil, apiErr
		}

		post, err := action(h.postService, c.Request.Context(), postID, actor)
		if err != nil {
			return nil, h.fromServiceError(method, err)
		}
		return post, nil
	}
}

func (h *JsonApiHandler) deletePost(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}
	postID, apiErr := h.parseIDArg(args, "post id")
	if apiErr != nil {
		return nil, apiErr
	}

	if err := h.postService.DeletePost(c.Request.Context(), postID, actor); err != nil {
		return nil, h.fromServiceError("deletePost", err)
	}
	return nil, nil
}

func (h *JsonApiHandler) submitApplication(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs services.SubmitInput
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if reqArgs.IdempotencyKey == "" {
		reqArgs.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	app, err := h.applicationService.Submit(c.Request.Context(), actor, reqArgs)
	if err != nil {
		return nil, h.fromServiceError("submitApplication", err)
	}
	return app, nil
}

func (h *JsonApiHandler) applicationAction(action models.ApplicationAction) apiMethodFunc {
	return func(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
		actor, apiErr := h.requireActor(c)
		if apiErr != nil {
			return nil, apiErr
		}
		applicationID, apiErr := h.parseIDArg(args, "application id")
		if apiErr != nil {
			return nil, apiErr
		}

		app, err := h.applicationService.Transition(c.Request.Context(), applicationID, action, actor, "")
		if err != nil {
			return nil, h.fromServiceError(string(action)+"Application", err)
		}
		return app, nil
	}
}

// RejectApplicationArgs defines the arguments for the rejectApplication method.
type RejectApplicationArgs struct {
	ApplicationID string `json:"application_id"`
	Reason        string `json:"reason,omitempty"`
}

func (h *JsonApiHandler) rejectApplication(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs RejectApplicationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.ApplicationID) == "" {
		return nil, NewApiError("application_id is required")
	}

	app, err := h.applicationService.Transition(c.Request.Context(), reqArgs.ApplicationID, models.ActionReject, actor, reqArgs.Reason)
	if err != nil {
		return nil, h.fromServiceError("rejectApplication", err)
	}
	return app, nil
}

// DecideApplicationArgs defines the arguments for the decideApplication method.
type DecideApplicationArgs struct {
	ApplicationID string `json:"application_id"`
	Action        string `json:"action"`
	Reason        string `json:"reason,omitempty"`
}

// decideApplication applies any owner action named by string, for clients that
// drive the decision from a single control.
func (h *JsonApiHandler) decideApplication(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	actor, apiErr := h.requireActor(c)
	if apiErr != nil {
		return nil, apiErr
	}

	var reqArgs DecideApplicationArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}
	if strings.TrimSpace(reqArgs.ApplicationID) == "" {
		return nil, NewApiError("application_id is required")
	}
	action, err := models.ParseApplicationAction(reqArgs.Action)
	if err != nil {
		return nil, NewApiError(err.Error())
	}

	app, err := h.applicationService.Transition(c.Request.Context(), reqArgs.ApplicationID, action, actor, reqArgs.Reason)
	if err != nil {
		return nil, h.fromServiceError("decideApplication", err)
	}
	return app, nil
}

func (h *JsonApiHandler) parseIDArg(args json.RawMessage, what string) (string, *ApiError) {
	var id string
	if apiErr := h.parseRequiredSingleArgFromArray(args, &id); apiErr != nil {
		return "", apiErr
	}
	if strings.TrimSpace(id) == "" {
		return "", NewApiError(fmt.Sprintf("Invalid argument: %s cannot be empty", what))
	}
	return id, nil
}

func (h *JsonApiHandler) parseRequiredSingleArgFromArray(rawArgPayload json.RawMessage, targetVarPtr interface{}) *ApiError {
	var argArray []json.RawMessage
	if rawArgPayload == nil {
		return NewApiError("Missing 'arguments' field; expected a JSON array with one argument.")
	}

	if err := json.Unmarshal(rawArgPayload, &argArray); err != nil {
		return NewApiError("Invalid 'arguments': expected a JSON array.")
	}

	if len(argArray) == 0 {
		return NewApiError("Invalid 'arguments': array is empty, but one argument is expected.")
	}

	if err := json.Unmarshal(argArray[0], targetVarPtr); err != nil {
		// err.Error() may echo request internals; keep the response generic.
		return NewApiError("Invalid format for argument: the first element in 'arguments' array has unexpected structure.")
	}
	return nil
}
