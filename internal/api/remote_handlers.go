package api

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/orquestrix/internal/apperr"
	"github.com/zulandar/orquestrix/internal/assistant"
	"github.com/zulandar/orquestrix/internal/file"
	"github.com/zulandar/orquestrix/internal/vectorstore"
	"gorm.io/gorm"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 512 << 20

func (h *handlers) health(c *gin.Context) {
	models, err := h.Gateway.ListModels(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"status": "degraded", "error": err.Error(),
			"chat_model": h.ChatModel, "worker_model": h.WorkerModel,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ok", "models": len(models),
		"chat_model": h.ChatModel, "worker_model": h.WorkerModel,
	})
}

func (h *handlers) sync(c *gin.Context) {
	ctx := c.Request.Context()
	kind := c.Param("kind")
	if kind == "memberships" {
		res, err := h.Engine.SyncMemberships(ctx, h.DB)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"kind": kind, "changed": res.Changed, "stores_processed": res.StoresProcessed})
		return
	}
	res, err := h.Engine.Pull(ctx, h.DB, kind)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "added": res.Added, "updated": res.Updated})
}

func (h *handlers) listAssistants(c *gin.Context) {
	list, err := assistant.List(h.DB)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]assistantView, 0, len(list))
	for _, a := range list {
		out = append(out, viewAssistant(a))
	}
	c.JSON(http.StatusOK, out)
}

type createAssistantBody struct {
	Name         string `json:"name"`
	Model        string `json:"model"`
	Description  string `json:"description"`
	Instructions string `json:"instructions"`
}

func (h *handlers) createAssistant(c *gin.Context) {
	var body createAssistantBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	a, err := h.Assistants.Create(c.Request.Context(), h.DB, assistant.CreateOpts{
		Name: body.Name, Model: body.Model, Description: body.Description, Instructions: body.Instructions,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewAssistant(*a))
}

func (h *handlers) getAssistant(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	a, err := assistant.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewAssistant(*a))
}

func (h *handlers) deleteAssistant(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Assistants.Delete(c.Request.Context(), h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listVectorStores(c *gin.Context) {
	list, err := vectorstore.List(h.DB)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewVectorStores(list))
}

type createVectorStoreBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handlers) createVectorStore(c *gin.Context) {
	var body createVectorStoreBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	vs, err := h.VectorStores.Create(c.Request.Context(), h.DB, body.Name, body.Description)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewVectorStore(*vs))
}

func (h *handlers) getVectorStore(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	vs, err := vectorstore.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewVectorStore(*vs))
}

func (h *handlers) deleteVectorStore(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.VectorStores.Delete(c.Request.Context(), h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) vectorStoreFiles(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	files, err := vectorstore.Files(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFiles(files))
}

func (h *handlers) listFiles(c *gin.Context) {
	embedded, err := optionalBool(c, "embedded")
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := file.List(h.DB, file.ListOpts{Search: c.Query("q"), Purpose: c.Query("purpose"), Embedded: embedded})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFiles(list))
}

// uploadFile takes a multipart "file" part and an optional "purpose" field.
func (h *handlers) uploadFile(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	header, err := c.FormFile("file")
	if err != nil {
		h.fail(c, apperr.Invalid("file", "multipart field \"file\" is required"))
		return
	}
	src, err := header.Open()
	if err != nil {
		h.fail(c, err)
		return
	}
	defer src.Close()
	content, err := io.ReadAll(src)
	if err != nil {
		h.fail(c, err)
		return
	}
	f, err := h.Files.Upload(c.Request.Context(), h.DB, header.Filename, content, c.PostForm("purpose"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewFile(*f))
}

func (h *handlers) getFile(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	f, err := file.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFile(*f))
}

func (h *handlers) fileContent(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	f, data, err := h.Files.Content(c.Request.Context(), h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=\""+f.Filename+"\"")
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (h *handlers) deleteFile(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := h.Files.Delete(c.Request.Context(), h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) attachFile(c *gin.Context) {
	h.membership(c, h.Files.Attach)
}

func (h *handlers) detachFile(c *gin.Context) {
	h.membership(c, h.Files.Detach)
}

func (h *handlers) membership(c *gin.Context, op func(ctx context.Context, db *gorm.DB, fileID, storeID uint) error) {
	fileID, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	storeID, err := idParam(c, "storeID")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := op(c.Request.Context(), h.DB, fileID, storeID); err != nil {
		h.fail(c, err)
		return
	}
	f, err := file.Get(h.DB, fileID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFile(*f))
}
