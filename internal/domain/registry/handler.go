package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/ehr/medledger/internal/domain/access"
	"github.com/ehr/medledger/internal/domain/consent"
	"github.com/ehr/medledger/internal/platform/apperror"
	"github.com/ehr/medledger/internal/platform/blobstore"
	"github.com/ehr/medledger/internal/platform/crypto"
	"github.com/ehr/medledger/pkg/pagination"
)

// ConsentChecker is the consent query used to gate provider reads.
type ConsentChecker interface {
	CheckConsent(ctx context.Context, patient, provider access.Principal, perm consent.Permission) (bool, error)
}

// Sealer encrypts uploaded bundles per patient.
type Sealer interface {
	Seal(patientID string, data []byte) ([]byte, error)
	Open(patientID string, data []byte) ([]byte, error)
}

type Handler struct {
	svc      *Service
	acl      access.Authorizer
	consents ConsentChecker
	blobs    blobstore.BlobStore
	sealer   Sealer
}

func NewHandler(svc *Service, acl access.Authorizer, consents ConsentChecker, blobs blobstore.BlobStore, sealer Sealer) *Handler {
	return &Handler{svc: svc, acl: acl, consents: consents, blobs: blobs, sealer: sealer}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/data", h.RegisterData)
	api.POST("/data/upload", h.UploadBundle)
	api.POST("/data/verify", h.VerifyIntegrity)
	api.GET("/data-hashes/:hash", h.LookupHash)

	api.GET("/data/:patientId", h.GetDataEntries)
	api.GET("/data/:patientId/count", h.GetDataEntryCount)
	api.GET("/data/:patientId/:index", h.GetDataEntry)
	api.GET("/data/:patientId/:index/content", h.GetContent)
	api.POST("/data/:patientId/:index/deactivate", h.DeactivateDataEntry)
}

var errNoReadConsent = echo.NewHTTPError(http.StatusForbidden, "caller may not read this patient's data")

// authorizeRead admits admins, the patient itself, providers holding Read
// consent from the patient, and providers that registered one of the
// patient's entries.
func (h *Handler) authorizeRead(c echo.Context, patientID string) error {
	ctx := c.Request().Context()
	caller := access.Caller(c)
	if caller.IsNull() {
		return errNoReadConsent
	}
	if string(caller) == patientID {
		return nil
	}
	role, err := h.acl.GetUserRole(ctx, caller)
	if err != nil {
		return apperror.HTTPError(err)
	}
	switch role {
	case access.RoleAdmin:
		return nil
	case access.RoleProvider:
		ok, err := h.consents.CheckConsent(ctx, access.Principal(patientID), caller, consent.PermissionRead)
		if err != nil {
			return apperror.HTTPError(err)
		}
		if ok {
			return nil
		}
		entries, err := h.svc.GetDataEntries(ctx, patientID)
		if err != nil {
			return apperror.HTTPError(err)
		}
		for _, e := range entries {
			if e.Registrant == caller {
				return nil
			}
		}
	}
	return errNoReadConsent
}

func indexParam(c echo.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("index"))
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid index")
	}
	return n, nil
}

type registerRequest struct {
	PatientID      string `json:"patient_id"`
	ContentHash    string `json:"content_hash"`
	StoragePointer string `json:"storage_pointer"`
}

func (h *Handler) RegisterData(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	e, err := h.svc.RegisterData(c.Request().Context(), access.Caller(c), req.ContentHash, req.StoragePointer, req.PatientID)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

type uploadRequest struct {
	PatientID string          `json:"patient_id"`
	Bundle    json.RawMessage `json:"bundle"`
}

// UploadBundle hashes the bundle, stores it sealed under the patient's key and
// registers the hash with the blob pointer.
func (h *Handler) UploadBundle(c echo.Context) error {
	var req uploadRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" || len(req.Bundle) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and bundle are required")
	}
	ctx := c.Request().Context()
	caller := access.Caller(c)

	// Fail before storing anything the registration would reject.
	err := access.Check(ctx, h.acl,
		access.RequireNotPaused(),
		access.RequireRole(caller, access.RoleProvider, access.MsgNotProvider),
	)
	if err != nil {
		return apperror.HTTPError(err)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, req.Bundle); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bundle is not valid JSON")
	}
	hash := crypto.ContentHash(compact.Bytes())
	if _, err := h.svc.LookupHash(ctx, hash); err == nil {
		return apperror.HTTPError(apperror.Conflict(MsgHashExists))
	}

	sealed, err := h.sealer.Seal(req.PatientID, compact.Bytes())
	if err != nil {
		return apperror.HTTPError(err)
	}
	meta, err := h.blobs.Upload(ctx, blobstore.BlobMetadata{
		ContentType: "application/octet-stream",
		PatientID:   req.PatientID,
		CreatedBy:   caller.String(),
	}, bytes.NewReader(sealed))
	if err != nil {
		return apperror.HTTPError(err)
	}

	e, err := h.svc.RegisterData(ctx, caller, hash, meta.Pointer(), req.PatientID)
	if err != nil {
		// Nothing points at the blob once registration fails.
		_ = h.blobs.Delete(context.WithoutCancel(ctx), meta.ID)
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetDataEntries(c echo.Context) error {
	patientID := c.Param("patientId")
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	items, err := h.svc.GetDataEntries(c.Request().Context(), patientID)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c), c.Request().URL.Path))
}

func (h *Handler) GetDataEntry(c echo.Context) error {
	patientID := c.Param("patientId")
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	e, err := h.svc.GetDataEntry(c.Request().Context(), patientID, index)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetDataEntryCount(c echo.Context) error {
	patientID := c.Param("patientId")
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	n, err := h.svc.GetDataEntryCount(c.Request().Context(), patientID)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"patient_id": patientID, "count": n})
}

// GetContent returns the decrypted bundle behind a blob-backed entry.
func (h *Handler) GetContent(c echo.Context) error {
	patientID := c.Param("patientId")
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	if err := h.authorizeRead(c, patientID); err != nil {
		return err
	}
	ctx := c.Request().Context()
	e, err := h.svc.GetDataEntry(ctx, patientID, index)
	if err != nil {
		return apperror.HTTPError(err)
	}
	id, err := blobstore.ParsePointer(e.StoragePointer)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "entry content is not held by this server")
	}
	rc, _, err := h.blobs.Download(ctx, id)
	if errors.Is(err, blobstore.ErrBlobNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	if err != nil {
		return apperror.HTTPError(err)
	}
	defer rc.Close()
	sealed, err := io.ReadAll(rc)
	if err != nil {
		return apperror.HTTPError(err)
	}
	plain, err := h.sealer.Open(patientID, sealed)
	if err != nil {
		return apperror.HTTPError(err)
	}
	if crypto.ContentHash(plain) != e.ContentHash {
		return echo.NewHTTPError(http.StatusConflict, "stored content does not match registered hash")
	}
	return c.JSONBlob(http.StatusOK, plain)
}

type verifyRequest struct {
	PatientID   string `json:"patient_id"`
	ContentHash string `json:"content_hash"`
}

func (h *Handler) VerifyIntegrity(c echo.Context) error {
	var req verifyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == "" || req.ContentHash == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id and content_hash are required")
	}
	ok, err := h.svc.VerifyIntegrity(c.Request().Context(), req.PatientID, req.ContentHash)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"verified": ok})
}

func (h *Handler) LookupHash(c echo.Context) error {
	ref, err := h.svc.LookupHash(c.Request().Context(), c.Param("hash"))
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.JSON(http.StatusOK, ref)
}

func (h *Handler) DeactivateDataEntry(c echo.Context) error {
	index, err := indexParam(c)
	if err != nil {
		return err
	}
	err = h.svc.DeactivateDataEntry(c.Request().Context(), access.Caller(c), c.Param("patientId"), index)
	if err != nil {
		return apperror.HTTPError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
