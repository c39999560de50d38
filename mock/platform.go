package mock

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/labstack/echo/v4"
)

// PlatformFile is a file uploaded to the mock platform server
type PlatformFile struct {
	ID      string
	Project string
	Folder  string
	Name    string
	Data    []byte
	Closed  bool
	Hidden  bool
}

// PlatformServer fakes the folder and file routes of the remote object store
type PlatformServer struct {
	*httptest.Server
	// FailUploads makes content uploads fail with a 500
	FailUploads bool
	token       string
	mu          sync.Mutex
	folders     map[string]bool
	files       map[string]*PlatformFile
	nextId      int
}

type folderReq struct {
	Folder  string `json:"folder"`
	Parents bool   `json:"parents"`
}

type newFileReq struct {
	Project string `json:"project"`
	Folder  string `json:"folder"`
	Name    string `json:"name"`
	Parents bool   `json:"parents"`
	Hidden  bool   `json:"hidden"`
}

type apiErr struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewPlatformServer starts a mock platform server that requires the passed bearer token.
// The caller must Close it.
func NewPlatformServer(token string) *PlatformServer {
	ps := &PlatformServer{
		token:   token,
		folders: make(map[string]bool),
		files:   make(map[string]*PlatformFile),
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(ps.authMiddleware)
	e.POST("/file/new", ps.newFile)
	e.POST("/:id/newFolder", ps.newFolder)
	e.POST("/:id/listFolder", ps.listFolder)
	e.POST("/:id/upload", ps.upload)
	e.POST("/:id/close", ps.close)
	e.PUT("/content/:id", ps.content)
	ps.Server = httptest.NewServer(e)
	return ps
}

// Files returns a copy of every file created on the server, in creation order
func (ps *PlatformServer) Files() []PlatformFile {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	files := []PlatformFile{}
	for _, f := range ps.files {
		files = append(files, *f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files
}

// HasFolder returns true if the folder exists in the project
func (ps *PlatformServer) HasFolder(project, folder string) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return folder == "/" || ps.folders[project+":"+folder]
}

// AddFolder creates a folder and its parents in the project
func (ps *PlatformServer) AddFolder(project, folder string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.addFolder(project, folder)
}

func (ps *PlatformServer) addFolder(project, folder string) {
	for f := path.Clean(folder); f != "/" && f != "."; f = path.Dir(f) {
		ps.folders[project+":"+f] = true
	}
}

func (ps *PlatformServer) authMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ps.token != "" && c.Request().Header.Get("Authorization") != "Bearer "+ps.token {
			return apiError(c, http.StatusUnauthorized, "InvalidAuthentication", "the token could not be found")
		}
		return next(c)
	}
}

func (ps *PlatformServer) newFolder(c echo.Context) error {
	req := folderReq{}
	if err := c.Bind(&req); err != nil || !strings.HasPrefix(req.Folder, "/") {
		return apiError(c, http.StatusUnprocessableEntity, "InvalidInput", "folder must be an absolute path")
	}
	project := c.Param("id")
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if !req.Parents && path.Dir(req.Folder) != "/" && !ps.folders[project+":"+path.Dir(req.Folder)] {
		return apiError(c, http.StatusNotFound, "ResourceNotFound", "parent folder does not exist")
	}
	ps.addFolder(project, req.Folder)
	return c.JSON(http.StatusOK, map[string]string{"id": project})
}

func (ps *PlatformServer) listFolder(c echo.Context) error {
	req := folderReq{}
	if err := c.Bind(&req); err != nil {
		return apiError(c, http.StatusUnprocessableEntity, "InvalidInput", err.Error())
	}
	project := c.Param("id")
	folder := path.Clean(req.Folder)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if folder != "/" && !ps.folders[project+":"+folder] {
		return apiError(c, http.StatusNotFound, "ResourceNotFound", fmt.Sprintf("folder %s does not exist", folder))
	}
	folders := []string{}
	for k := range ps.folders {
		p, f, _ := strings.Cut(k, ":")
		if p == project && path.Dir(f) == folder {
			folders = append(folders, f)
		}
	}
	sort.Strings(folders)
	objects := []map[string]string{}
	for _, f := range ps.files {
		if f.Project == project && f.Folder == folder && !f.Hidden {
			objects = append(objects, map[string]string{"id": f.ID, "name": f.Name})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"folders": folders, "objects": objects})
}

func (ps *PlatformServer) newFile(c echo.Context) error {
	req := newFileReq{}
	if err := c.Bind(&req); err != nil || req.Project == "" || req.Name == "" {
		return apiError(c, http.StatusUnprocessableEntity, "InvalidInput", "project and name are required")
	}
	folder := path.Clean(req.Folder)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if folder != "/" && !ps.folders[req.Project+":"+folder] {
		if !req.Parents {
			return apiError(c, http.StatusNotFound, "ResourceNotFound", fmt.Sprintf("folder %s does not exist", folder))
		}
		ps.addFolder(req.Project, folder)
	}
	ps.nextId++
	id := fmt.Sprintf("file-%06d", ps.nextId)
	ps.files[id] = &PlatformFile{ID: id, Project: req.Project, Folder: folder, Name: req.Name, Hidden: req.Hidden}
	return c.JSON(http.StatusOK, map[string]string{"id": id})
}

func (ps *PlatformServer) upload(c echo.Context) error {
	id := c.Param("id")
	if _, ok := ps.file(id); !ok {
		return apiError(c, http.StatusNotFound, "ResourceNotFound", id)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"url":     ps.URL + "/content/" + id,
		"headers": map[string]string{"X-Upload-Part": "1"},
	})
}

func (ps *PlatformServer) content(c echo.Context) error {
	if ps.FailUploads {
		return apiError(c, http.StatusInternalServerError, "InternalError", "upload failed")
	}
	f, ok := ps.file(c.Param("id"))
	if !ok {
		return apiError(c, http.StatusNotFound, "ResourceNotFound", c.Param("id"))
	}
	data, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return apiError(c, http.StatusBadRequest, "InvalidInput", err.Error())
	}
	ps.mu.Lock()
	f.Data = data
	ps.mu.Unlock()
	return c.NoContent(http.StatusOK)
}

func (ps *PlatformServer) close(c echo.Context) error {
	f, ok := ps.file(c.Param("id"))
	if !ok {
		return apiError(c, http.StatusNotFound, "ResourceNotFound", c.Param("id"))
	}
	ps.mu.Lock()
	f.Closed = true
	ps.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]string{"id": f.ID})
}

func (ps *PlatformServer) file(id string) (*PlatformFile, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	f, ok := ps.files[id]
	return f, ok
}

func apiError(c echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]apiErr{"error": {Type: errType, Message: msg}})
}
