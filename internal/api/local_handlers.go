package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/orquestrix/internal/chat"
	"github.com/zulandar/orquestrix/internal/chatrole"
	"github.com/zulandar/orquestrix/internal/project"
	"github.com/zulandar/orquestrix/internal/worker"
)

type idsBody struct {
	IDs []uint `json:"ids"`
}

func (h *handlers) listProjects(c *gin.Context) {
	list, err := project.List(h.DB)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]projectView, 0, len(list))
	for _, p := range list {
		out = append(out, viewProject(p))
	}
	c.JSON(http.StatusOK, out)
}

type createProjectBody struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *handlers) createProject(c *gin.Context) {
	var body createProjectBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	p, err := project.Create(h.DB, project.CreateOpts{UserID: h.Actor.ID, Name: body.Name, Description: body.Description})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewProject(*p))
}

func (h *handlers) getProject(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	p, err := project.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProject(*p))
}

func (h *handlers) deleteProject(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := project.Delete(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) setProjectFiles(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body idsBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	if err := project.SetFiles(h.DB, id, body.IDs); err != nil {
		h.fail(c, err)
		return
	}
	p, err := project.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewProject(*p))
}

func (h *handlers) availableProjectFiles(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	selected, err := optionalBool(c, "selected")
	if err != nil {
		h.fail(c, err)
		return
	}
	opts := project.AvailableOpts{Search: c.Query("q"), OnlySelected: selected != nil && *selected}
	files, err := project.AvailableFiles(h.DB, id, opts)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewFiles(files))
}

func (h *handlers) listChatRoles(c *gin.Context) {
	active, err := optionalBool(c, "active")
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := chatrole.List(h.DB, active != nil && *active)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]chatRoleView, 0, len(list))
	for _, r := range list {
		out = append(out, viewChatRole(r))
	}
	c.JSON(http.StatusOK, out)
}

type chatRoleBody struct {
	Name         *string  `json:"name"`
	Description  *string  `json:"description"`
	Instructions *string  `json:"instructions"`
	Model        *string  `json:"model"`
	Temperature  *float64 `json:"temperature"`
	Active       *bool    `json:"active"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (h *handlers) createChatRole(c *gin.Context) {
	var body chatRoleBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	r, err := chatrole.Create(h.DB, h.ChatModel, chatrole.CreateOpts{
		Name:         deref(body.Name),
		Description:  deref(body.Description),
		Instructions: deref(body.Instructions),
		Model:        deref(body.Model),
		Temperature:  body.Temperature,
		Active:       body.Active,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewChatRole(*r))
}

func (h *handlers) getChatRole(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	r, err := chatrole.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChatRole(*r))
}

func (h *handlers) updateChatRole(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body chatRoleBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	r, err := chatrole.Update(h.DB, id, chatrole.UpdateOpts{
		Name:         body.Name,
		Description:  body.Description,
		Instructions: body.Instructions,
		Model:        body.Model,
		Temperature:  body.Temperature,
		Active:       body.Active,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChatRole(*r))
}

func (h *handlers) deleteChatRole(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := chatrole.Delete(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listChats(c *gin.Context) {
	projectID, err := optionalUint(c, "project_id")
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := chat.List(h.DB, chat.ListOpts{ProjectID: projectID})
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]chatView, 0, len(list))
	for _, ch := range list {
		out = append(out, viewChat(ch))
	}
	c.JSON(http.StatusOK, out)
}

type createChatBody struct {
	Title           string `json:"title"`
	Objective       string `json:"objective"`
	Model           string `json:"model"`
	MaxOutputTokens int    `json:"max_output_tokens"`
	ProjectID       *uint  `json:"project_id"`
	ChatRoleID      *uint  `json:"chat_role_id"`
}

func (h *handlers) createChat(c *gin.Context) {
	var body createChatBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	ch, err := h.Chats.Create(h.DB, chat.CreateOpts{
		UserID:          h.Actor.ID,
		Title:           body.Title,
		Objective:       body.Objective,
		Model:           body.Model,
		MaxOutputTokens: body.MaxOutputTokens,
		ProjectID:       body.ProjectID,
		ChatRoleID:      body.ChatRoleID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewChat(*ch))
}

func (h *handlers) getChat(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	ch, err := chat.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChat(*ch))
}

func (h *handlers) deleteChat(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := chat.Delete(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type roleRefBody struct {
	RoleID *uint `json:"role_id"`
}

func (h *handlers) assignChatRole(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body roleRefBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	ch, err := chat.AssignRole(h.DB, id, body.RoleID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChat(*ch))
}

type projectRefBody struct {
	ProjectID *uint `json:"project_id"`
}

func (h *handlers) assignChatProject(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body projectRefBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	ch, err := chat.AssignProject(h.DB, id, body.ProjectID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChat(*ch))
}

func (h *handlers) setChatVectorStores(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body idsBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	ch, err := chat.SetVectorStores(h.DB, id, body.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewChat(*ch))
}

func (h *handlers) chatMessages(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	msgs, err := chat.Messages(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, viewMessage(m))
	}
	c.JSON(http.StatusOK, out)
}

type sendBody struct {
	Content string `json:"content"`
}

func (h *handlers) sendChatMessage(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body sendBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	reply, err := h.Chats.Send(c.Request.Context(), h.DB, id, body.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewMessage(*reply))
}

func (h *handlers) listWorkers(c *gin.Context) {
	projectID, err := optionalUint(c, "project_id")
	if err != nil {
		h.fail(c, err)
		return
	}
	list, err := worker.List(h.DB, worker.ListOpts{ProjectID: projectID})
	if err != nil {
		h.fail(c, err)
		return
	}
	out := make([]workerView, 0, len(list))
	for _, w := range list {
		out = append(out, viewWorker(w))
	}
	c.JSON(http.StatusOK, out)
}

type createWorkerBody struct {
	ProjectID   uint   `json:"project_id"`
	AssistantID *uint  `json:"assistant_id"`
	Name        string `json:"name"`
	Model       string `json:"model"`
}

func (h *handlers) createWorker(c *gin.Context) {
	var body createWorkerBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	w, err := h.Workers.Create(h.DB, worker.CreateOpts{
		UserID:      h.Actor.ID,
		ProjectID:   body.ProjectID,
		AssistantID: body.AssistantID,
		Name:        body.Name,
		Model:       body.Model,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewWorker(*w))
}

func (h *handlers) getWorker(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	w, err := worker.Get(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWorker(*w))
}

func (h *handlers) deleteWorker(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := worker.Delete(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) setWorkerFiles(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body idsBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	w, err := worker.SetFiles(h.DB, id, body.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWorker(*w))
}

func (h *handlers) setWorkerVectorStores(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body idsBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	w, err := worker.SetVectorStores(h.DB, id, body.IDs)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewWorker(*w))
}

func (h *handlers) resetWorkerThread(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	if err := worker.ResetThread(h.DB, id); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type runBody struct {
	Prompt string `json:"prompt"`
}

func (h *handlers) runWorker(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	var body runBody
	if err := bind(c, &body); err != nil {
		h.fail(c, err)
		return
	}
	entry, err := h.Workers.RunOnce(c.Request.Context(), h.DB, id, body.Prompt)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewWorkerLog(*entry, nil))
}

func (h *handlers) workerLogs(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		h.fail(c, err)
		return
	}
	logs, err := worker.Logs(h.DB, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, viewLogEntries(logs))
}
