// Package client 是 TaskHub 的 Go 客户端。
//
// 它维护两份相互独立的状态镜像：登录身份（用户 + 令牌）与任务列表。
// 镜像只从服务端响应回填，客户端不做任何二次推导——统计、排序、
// 归属关系一律以服务端返回为准。
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

// User 服务端返回的账号公开视图。
type User struct {
	ID          uint       `json:"id"`
	Name        string     `json:"name"`
	Email       string     `json:"email"`
	Avatar      string     `json:"avatar,omitempty"`
	ProfileURL  string     `json:"profileUrl"`
	IsActive    bool       `json:"isActive"`
	LastLoginAt *time.Time `json:"lastLoginAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// Task 服务端返回的任务视图，派生字段原样透传。
type Task struct {
	ID           uint       `json:"id"`
	UserID       uint       `json:"userId"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       string     `json:"status"`
	Priority     string     `json:"priority"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CompletedAt  *time.Time `json:"completedAt"`
	Tags         []string   `json:"tags"`
	IsImportant  bool       `json:"isImportant"`
	Notes        string     `json:"notes,omitempty"`
	IsOverdue    bool       `json:"isOverdue"`
	DaysUntilDue *int       `json:"daysUntilDue"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Stats 任务统计，服务端计算完毕后透传。
type Stats struct {
	Total          int64            `json:"total"`
	Completed      int64            `json:"completed"`
	Pending        int64            `json:"pending"`
	Important      int64            `json:"important"`
	Overdue        int64            `json:"overdue"`
	CompletionRate int              `json:"completionRate"`
	ByPriority     map[string]int64 `json:"byPriority"`
}

// TaskInput 创建/更新任务的入参。nil 字段在更新时保持原值。
type TaskInput struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Status      *string    `json:"status,omitempty"`
	Priority    *string    `json:"priority,omitempty"`
	DueDate     *time.Time `json:"dueDate,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
	IsImportant *bool      `json:"isImportant,omitempty"`
	Notes       *string    `json:"notes,omitempty"`
}

// ListOptions 列表过滤参数，零值表示不过滤。
type ListOptions struct {
	Status      string
	Priority    string
	IsImportant *bool
	Search      string
}

// APIError 非 2xx 响应对应的错误。
type APIError struct {
	Status  int
	Message string
	Errors  []string
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("api: %d %s (%d validation errors)", e.Status, e.Message, len(e.Errors))
	}
	return fmt.Sprintf("api: %d %s", e.Status, e.Message)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Errors  []string        `json:"errors"`
}

// Client 持有服务地址与两份状态镜像。所有方法并发安全。
type Client struct {
	baseURL string
	httpc   *http.Client

	mu           sync.Mutex
	token        string
	user         *User
	tasks        []Task
	loadingTasks bool // 列表请求在途标记，重复请求直接短路
}

// New 创建客户端。httpc 为 nil 时使用一个 10 秒超时的默认实例。
func New(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: baseURL, httpc: httpc}
}

// CurrentUser 返回身份镜像中的用户，未登录时为 nil。
func (c *Client) CurrentUser() *User {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}

// Token 返回当前持有的令牌，未登录时为空串。
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Tasks 返回任务列表镜像的副本。
func (c *Client) Tasks() []Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

type authPayload struct {
	User  User   `json:"user"`
	Token string `json:"token"`
}

// Register 注册新账号并缓存返回的身份。
func (c *Client) Register(ctx context.Context, name, email, password string) (*User, error) {
	body := map[string]string{"name": name, "email": email, "password": password}
	var payload authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/register", body, &payload); err != nil {
		return nil, err
	}
	c.setIdentity(&payload.User, payload.Token)
	u := payload.User
	return &u, nil
}

// Login 登录并缓存返回的身份。
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	body := map[string]string{"email": email, "password": password}
	var payload authPayload
	if err := c.do(ctx, http.MethodPost, "/auth/login", body, &payload); err != nil {
		return nil, err
	}
	c.setIdentity(&payload.User, payload.Token)
	u := payload.User
	return &u, nil
}

// Logout 通知服务端后清空本地身份与任务镜像。
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil)
	c.clearIdentity()
	return err
}

// Me 拉取当前用户资料并刷新身份镜像。
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, &user); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = &user
	c.mu.Unlock()
	u := user
	return &u, nil
}

// UpdateProfile 更新显示名称/头像并刷新身份镜像。
func (c *Client) UpdateProfile(ctx context.Context, name, avatar *string) (*User, error) {
	body := map[string]interface{}{}
	if name != nil {
		body["name"] = *name
	}
	if avatar != nil {
		body["avatar"] = *avatar
	}
	var user User
	if err := c.do(ctx, http.MethodPut, "/auth/profile", body, &user); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.user = &user
	c.mu.Unlock()
	u := user
	return &u, nil
}

// ChangePassword 更换密码。已持有的令牌仍然有效。
func (c *Client) ChangePassword(ctx context.Context, current, next string) error {
	body := map[string]string{"currentPassword": current, "newPassword": next}
	return c.do(ctx, http.MethodPut, "/auth/password", body, nil)
}

// FetchTasks 拉取任务列表并整体替换镜像。
//
// 已有一次列表请求在途时不再发起新请求，直接返回当前镜像（与
// 浏览器端的 "already loading" 短路一致）。
func (c *Client) FetchTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	c.mu.Lock()
	if c.loadingTasks {
		out := make([]Task, len(c.tasks))
		copy(out, c.tasks)
		c.mu.Unlock()
		return out, nil
	}
	c.loadingTasks = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loadingTasks = false
		c.mu.Unlock()
	}()

	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Priority != "" {
		q.Set("priority", opts.Priority)
	}
	if opts.IsImportant != nil {
		q.Set("isImportant", strconv.FormatBool(*opts.IsImportant))
	}
	if opts.Search != "" {
		q.Set("search", opts.Search)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.tasks = tasks
	out := make([]Task, len(tasks))
	copy(out, tasks)
	c.mu.Unlock()
	return out, nil
}

// GetTask 拉取单个任务（不进入列表镜像）。
func (c *Client) GetTask(ctx context.Context, id uint) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tasks/%d", id), nil, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask 创建任务并把响应追加进镜像。
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPost, "/tasks", in, &task); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tasks = append(c.tasks, task)
	c.mu.Unlock()
	return &task, nil
}

// UpdateTask 整体更新任务并用响应替换镜像中的对应项。
func (c *Client) UpdateTask(ctx context.Context, id uint, in TaskInput) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/tasks/%d", id), in, &task); err != nil {
		return nil, err
	}
	c.replaceTask(task)
	return &task, nil
}

// DeleteTask 删除任务并从镜像中移除。
func (c *Client) DeleteTask(ctx context.Context, id uint) error {
	if err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/tasks/%d", id), nil, nil); err != nil {
		return err
	}
	c.mu.Lock()
	for i := range c.tasks {
		if c.tasks[i].ID == id {
			c.tasks = append(c.tasks[:i], c.tasks[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	return nil
}

// ToggleStatus 翻转任务状态并用响应替换镜像中的对应项。
func (c *Client) ToggleStatus(ctx context.Context, id uint) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/tasks/%d/toggle", id), nil, &task); err != nil {
		return nil, err
	}
	c.replaceTask(task)
	return &task, nil
}

// ToggleImportant 翻转重要标记并用响应替换镜像中的对应项。
func (c *Client) ToggleImportant(ctx context.Context, id uint) (*Task, error) {
	var task Task
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/tasks/%d/important", id), nil, &task); err != nil {
		return nil, err
	}
	c.replaceTask(task)
	return &task, nil
}

// FetchStats 拉取任务统计，数值全部由服务端计算。
func (c *Client) FetchStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/tasks/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) setIdentity(user *User, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = user
	c.token = token
}

func (c *Client) clearIdentity() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = nil
	c.token = ""
	c.tasks = nil
}

func (c *Client) replaceTask(task Task) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.tasks {
		if c.tasks[i].ID == task.ID {
			c.tasks[i] = task
			return
		}
	}
}

// do 发送请求并解析响应包装。
//
// 收到 401 时视为凭据失效，清空身份与任务镜像后再返回错误。
func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.clearIdentity()
	}
	if resp.StatusCode >= 400 || !env.Success {
		return &APIError{Status: resp.StatusCode, Message: env.Message, Errors: env.Errors}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}
