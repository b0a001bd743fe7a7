package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/neurobridge-ingest/internal/http/response"
	"github.com/yungbote/neurobridge-ingest/internal/platform/ctxutil"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
	"github.com/yungbote/neurobridge-ingest/internal/platform/twilio"
	"github.com/yungbote/neurobridge-ingest/internal/services"
)

const (
	emptyTwiML      = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	maxInboundMedia = 10
)

type ChannelHandler struct {
	log        *logger.Logger
	channel    services.ChannelService
	twilio     twilio.Client
	webhookURL string
}

// NewChannelHandler builds the channel endpoints. webhookURL is the public URL
// Twilio signs; when empty it is rebuilt from the request.
func NewChannelHandler(log *logger.Logger, channel services.ChannelService, tw twilio.Client, webhookURL string) *ChannelHandler {
	return &ChannelHandler{
		log:        log.With("handler", "ChannelHandler"),
		channel:    channel,
		twilio:     tw,
		webhookURL: strings.TrimSpace(webhookURL),
	}
}

type channelContentJSON struct {
	Contact           string         `json:"contact"`
	LogicalType       string         `json:"logical_type"`
	Text              string         `json:"text"`
	FileName          string         `json:"file_name"`
	ContentBase64     string         `json:"content_base64"`
	ContentType       string         `json:"content_type"`
	ExistingObjectKey string         `json:"existing_object_key"`
	ExistingNamespace string         `json:"existing_namespace"`
	Metadata          map[string]any `json:"metadata"`
}

// POST /api/channels/content. The content belongs to the caller. Only a
// channel service token may name a contact as the owner instead.
func (h *ChannelHandler) Content(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || strings.TrimSpace(rd.UserID) == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing caller identity"))
		return
	}
	var body channelContentJSON
	if err := c.ShouldBindJSON(&body); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}
	req := services.ChannelContentRequest{
		Contact:           body.Contact,
		LogicalType:       body.LogicalType,
		Text:              body.Text,
		FileName:          body.FileName,
		Base64:            body.ContentBase64,
		ContentType:       body.ContentType,
		ExistingObjectKey: body.ExistingObjectKey,
		ExistingNamespace: body.ExistingNamespace,
		Metadata:          body.Metadata,
	}
	if strings.TrimSpace(req.Contact) != "" {
		if !rd.HasRole(ctxutil.RoleChannelService) {
			h.log.Warn("Contact submit refused for non-service caller", "user_id", rd.UserID, "auth_source", rd.AuthSource)
			response.RespondError(c, http.StatusForbidden, "contact_not_permitted", errors.New("only a channel service may submit for a contact"))
			return
		}
		req.ContactTrusted = true
	} else {
		req.UserID = rd.UserID
	}
	res, err := h.channel.Submit(c.Request.Context(), req)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	status := http.StatusOK
	if res.Record != nil {
		status = http.StatusCreated
		response.TagFile(c, res.Record.ID.String(), res.Namespace)
	} else {
		response.TagFile(c, "", res.Namespace)
	}
	c.JSON(status, res)
}

// POST /api/channels/link. Links the caller's own profile number so messages
// from it land in the caller's namespace.
func (h *ChannelHandler) LinkContact(c *gin.Context) {
	rd := ctxutil.GetRequestData(c.Request.Context())
	if rd == nil || strings.TrimSpace(rd.UserID) == "" {
		response.RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing caller identity"))
		return
	}
	var body struct {
		Contact string `json:"contact"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Contact) == "" {
		response.RespondError(c, http.StatusBadRequest, "invalid_request", errors.New("contact required"))
		return
	}
	id, err := h.channel.LinkContact(c.Request.Context(), rd.UserID, body.Contact)
	if err != nil {
		response.RespondAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": id})
}

// POST /api/channels/twilio/webhook. Twilio retries anything but 2xx, so
// content failures are logged and still answered with empty TwiML. Without
// an auth token no post can be verified and every one is refused.
func (h *ChannelHandler) TwilioWebhook(c *gin.Context) {
	if h.twilio == nil || !h.twilio.SignatureRequired() {
		h.log.Warn("Twilio webhook refused; TWILIO_AUTH_TOKEN not configured")
		response.RespondError(c, http.StatusForbidden, "webhook_unverifiable", errors.New("webhook signing is not configured"))
		return
	}
	if err := c.Request.ParseForm(); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_form", err)
		return
	}
	form := c.Request.PostForm
	sig := c.GetHeader("X-Twilio-Signature")
	if sig == "" || !h.twilio.ValidateSignature(h.signedURL(c), form, sig) {
		response.RespondError(c, http.StatusForbidden, "invalid_signature", errors.New("webhook signature mismatch"))
		return
	}

	from := strings.TrimSpace(form.Get("From"))
	if from == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_from", errors.New("From is required"))
		return
	}
	ctx := c.Request.Context()
	meta := map[string]any{"message_sid": form.Get("MessageSid")}

	if text := strings.TrimSpace(form.Get("Body")); text != "" {
		if _, err := h.channel.Submit(ctx, services.ChannelContentRequest{Contact: from, ContactTrusted: true, Text: text, Metadata: meta}); err != nil {
			h.log.Warn("Inbound message text not ingested", "error", err, "from", from)
		}
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	if numMedia > maxInboundMedia {
		numMedia = maxInboundMedia
	}
	for i := 0; i < numMedia; i++ {
		mediaURL := strings.TrimSpace(form.Get(fmt.Sprintf("MediaUrl%d", i)))
		if mediaURL == "" {
			continue
		}
		media, err := h.twilio.FetchMedia(ctx, mediaURL)
		if err != nil {
			h.log.Warn("Inbound media download failed", "error", err, "from", from, "index", i)
			continue
		}
		ct := strings.TrimSpace(form.Get(fmt.Sprintf("MediaContentType%d", i)))
		if ct == "" {
			ct = media.ContentType
		}
		data := media.Data
		if data == nil {
			data = []byte{}
		}
		if _, err := h.channel.Submit(ctx, services.ChannelContentRequest{
			Contact:        from,
			ContactTrusted: true,
			Data:           data,
			ContentType:    ct,
			Metadata:       map[string]any{"message_sid": form.Get("MessageSid"), "media_index": i},
		}); err != nil {
			h.log.Warn("Inbound media not ingested", "error", err, "from", from, "index", i)
		}
	}

	c.Data(http.StatusOK, "text/xml; charset=utf-8", []byte(emptyTwiML))
}

func (h *ChannelHandler) signedURL(c *gin.Context) string {
	if h.webhookURL != "" {
		return h.webhookURL
	}
	scheme := "https"
	if c.Request.TLS == nil {
		if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		} else {
			scheme = "http"
		}
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.RequestURI()
}
