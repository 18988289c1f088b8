package api

import "github.com/gin-gonic/gin"

// registerRoutes sets up every API route on the router.
func registerRoutes(router *gin.Engine, h *handlers) {
	router.GET("/health", h.health)
	router.POST("/sync/:kind", h.sync)

	router.GET("/assistants", h.listAssistants)
	router.POST("/assistants", h.createAssistant)
	router.GET("/assistants/:id", h.getAssistant)
	router.DELETE("/assistants/:id", h.deleteAssistant)

	router.GET("/vector-stores", h.listVectorStores)
	router.POST("/vector-stores", h.createVectorStore)
	router.GET("/vector-stores/:id", h.getVectorStore)
	router.DELETE("/vector-stores/:id", h.deleteVectorStore)
	router.GET("/vector-stores/:id/files", h.vectorStoreFiles)

	router.GET("/files", h.listFiles)
	router.POST("/files", h.uploadFile)
	router.GET("/files/:id", h.getFile)
	router.GET("/files/:id/content", h.fileContent)
	router.DELETE("/files/:id", h.deleteFile)
	router.PUT("/files/:id/vector-stores/:storeID", h.attachFile)
	router.DELETE("/files/:id/vector-stores/:storeID", h.detachFile)

	router.GET("/projects", h.listProjects)
	router.POST("/projects", h.createProject)
	router.GET("/projects/:id", h.getProject)
	router.DELETE("/projects/:id", h.deleteProject)
	router.PUT("/projects/:id/files", h.setProjectFiles)
	router.GET("/projects/:id/available-files", h.availableProjectFiles)

	router.GET("/chat-roles", h.listChatRoles)
	router.POST("/chat-roles", h.createChatRole)
	router.GET("/chat-roles/:id", h.getChatRole)
	router.PATCH("/chat-roles/:id", h.updateChatRole)
	router.DELETE("/chat-roles/:id", h.deleteChatRole)

	router.GET("/chats", h.listChats)
	router.POST("/chats", h.createChat)
	router.GET("/chats/:id", h.getChat)
	router.DELETE("/chats/:id", h.deleteChat)
	router.PUT("/chats/:id/role", h.assignChatRole)
	router.PUT("/chats/:id/project", h.assignChatProject)
	router.PUT("/chats/:id/vector-stores", h.setChatVectorStores)
	router.GET("/chats/:id/messages", h.chatMessages)
	router.POST("/chats/:id/messages", h.sendChatMessage)

	router.GET("/workers", h.listWorkers)
	router.POST("/workers", h.createWorker)
	router.GET("/workers/:id", h.getWorker)
	router.DELETE("/workers/:id", h.deleteWorker)
	router.PUT("/workers/:id/files", h.setWorkerFiles)
	router.PUT("/workers/:id/vector-stores", h.setWorkerVectorStores)
	router.DELETE("/workers/:id/thread", h.resetWorkerThread)
	router.POST("/workers/:id/runs", h.runWorker)
	router.GET("/workers/:id/logs", h.workerLogs)
}
