package client

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID    string  `json:"productId"`
	ProductName  string  `json:"productName"`
	ProductPrice float64 `json:"productPrice"`
	PriceType    string  `json:"priceType"`
	Quantity     int     `json:"quantity"`
	Subtotal     float64 `json:"subtotal"`
}

type Order struct {
	ID              string      `json:"id,omitempty"`
	OrderNumber     string      `json:"orderNumber,omitempty"`
	Status          string      `json:"status,omitempty"`
	Items           int         `json:"items,omitempty"`
	CustomerName    string      `json:"customerName,omitempty"`
	ShippingService string      `json:"shippingService,omitempty"`
	TrackingCode    string      `json:"trackingCode,omitempty"`
	CreatedAt       string      `json:"createdAt,omitempty"`
	Total           float64     `json:"total,omitempty"`
	OrderItems      []OrderItem `json:"orderItems,omitempty"`
	CustomerEmail   string      `json:"customerEmail,omitempty"`
	CustomerPhone   string      `json:"customerPhone,omitempty"`
	ShippingAddress string      `json:"shippingAddress,omitempty"`
	Notes           string      `json:"notes,omitempty"`
}

// Product prices: WholesalePrice and RetailPrice supersede the legacy Price.
type Product struct {
	ID             string   `json:"id,omitempty"`
	Name           string   `json:"name,omitempty"`
	WholesalePrice *float64 `json:"wholesalePrice,omitempty"`
	RetailPrice    *float64 `json:"retailPrice,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	Stock          int      `json:"stock,omitempty"`
	Category       string   `json:"category,omitempty"`
	Status         string   `json:"status,omitempty"`
	Image          string   `json:"image,omitempty"`
	Description    string   `json:"description,omitempty"`
	SKU            string   `json:"sku,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`
	Dimensions     string   `json:"dimensions,omitempty"`
	CreatedAt      string   `json:"createdAt,omitempty"`
}

type Category struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	ProductCount int    `json:"productCount,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
}

type DashboardStats struct {
	TotalOrders   int     `json:"totalOrders"`
	TotalRevenue  float64 `json:"totalRevenue"`
	PendingOrders int     `json:"pendingOrders"`
	TotalProducts int     `json:"totalProducts"`
	OrdersTrend   float64 `json:"ordersTrend"`
	RevenueTrend  float64 `json:"revenueTrend"`
}

// User is a dashboard account as managed by administrators.
type User struct {
	ID          string `json:"id,omitempty"`
	Email       string `json:"email,omitempty"`
	Name        string `json:"name,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Role        string `json:"role,omitempty"`
	Status      string `json:"status,omitempty"`
	LastLoginAt string `json:"lastLoginAt,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type Permission struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	IsActive    bool   `json:"isActive"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
}

type Role struct {
	ID          string   `json:"id,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	IsActive    bool     `json:"isActive"`
	CreatedAt   string   `json:"createdAt,omitempty"`
	UpdatedAt   string   `json:"updatedAt,omitempty"`
}

// Page is a paginated listing.
type Page[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

// UserPage is the users listing, which the backend wraps in a success envelope.
type UserPage struct {
	Users []User `json:"users"`
	Total int    `json:"total"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type envelope[T any] struct {
	Success bool `json:"success"`
	Data    T    `json:"data"`
}

// Filter narrows a listing. Empty fields and "all" are not sent.
type Filter struct {
	Category string
	Status   string
	Search   string
}

func (f Filter) query(page, limit int) url.Values {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	if f.Category != "" && f.Category != "all" {
		q.Set("category", f.Category)
	}
	if f.Status != "" && f.Status != "all" {
		q.Set("status", f.Status)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	return q
}

// API is the dashboard's typed REST consumer.
type API struct {
	c *Client
}

// NewAPI wraps c.
func NewAPI(c *Client) *API { return &API{c: c} }

func (a *API) ListOrders(ctx context.Context, page, limit int, f Filter) (*Page[Order], error) {
	f.Category = ""
	var out Page[Order]
	if err := a.c.DoJSON(ctx, http.MethodGet, "orders?"+f.query(page, limit).Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOrder returns nil without error when the order does not exist.
func (a *API) GetOrder(ctx context.Context, id string) (*Order, error) {
	var out Order
	if err := a.c.DoJSON(ctx, http.MethodGet, "orders/"+url.PathEscape(id), nil, &out); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (a *API) CreateOrder(ctx context.Context, in Order) (*Order, error) {
	var out Order
	if err := a.c.DoJSON(ctx, http.MethodPost, "orders", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateOrder(ctx context.Context, id string, in Order) (*Order, error) {
	var out Order
	if err := a.c.DoJSON(ctx, http.MethodPatch, "orders/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteOrder(ctx context.Context, id string) error {
	return a.c.DoJSON(ctx, http.MethodDelete, "orders/"+url.PathEscape(id), nil, nil)
}

func (a *API) ListProducts(ctx context.Context, page, limit int, f Filter) (*Page[Product], error) {
	var out Page[Product]
	if err := a.c.DoJSON(ctx, http.MethodGet, "products?"+f.query(page, limit).Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetProduct returns nil without error when the product does not exist.
func (a *API) GetProduct(ctx context.Context, id string) (*Product, error) {
	var out Product
	if err := a.c.DoJSON(ctx, http.MethodGet, "products/"+url.PathEscape(id), nil, &out); err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return &out, nil
}

func (a *API) CreateProduct(ctx context.Context, in Product) (*Product, error) {
	var out Product
	if err := a.c.DoJSON(ctx, http.MethodPost, "products", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateProduct(ctx context.Context, id string, in Product) (*Product, error) {
	var out Product
	if err := a.c.DoJSON(ctx, http.MethodPatch, "products/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteProduct(ctx context.Context, id string) error {
	return a.c.DoJSON(ctx, http.MethodDelete, "products/"+url.PathEscape(id), nil, nil)
}

func (a *API) ListCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := a.c.DoJSON(ctx, http.MethodGet, "categories", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) CreateCategory(ctx context.Context, in Category) (*Category, error) {
	var out Category
	if err := a.c.DoJSON(ctx, http.MethodPost, "categories", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateCategory(ctx context.Context, id string, in Category) (*Category, error) {
	var out Category
	if err := a.c.DoJSON(ctx, http.MethodPatch, "categories/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteCategory(ctx context.Context, id string) error {
	return a.c.DoJSON(ctx, http.MethodDelete, "categories/"+url.PathEscape(id), nil, nil)
}

func (a *API) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	var out DashboardStats
	if err := a.c.DoJSON(ctx, http.MethodGet, "dashboard/stats", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) ListUsers(ctx context.Context, page, limit int) (*UserPage, error) {
	var out envelope[UserPage]
	if err := a.c.DoJSON(ctx, http.MethodGet, "users?"+Filter{}.query(page, limit).Encode(), nil, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (a *API) GetUser(ctx context.Context, id string) (*User, error) {
	return a.userCall(ctx, http.MethodGet, "users/"+url.PathEscape(id), nil)
}

func (a *API) CreateUser(ctx context.Context, in User) (*User, error) {
	return a.userCall(ctx, http.MethodPost, "users", in)
}

func (a *API) UpdateUser(ctx context.Context, id string, in User) (*User, error) {
	return a.userCall(ctx, http.MethodPut, "users/"+url.PathEscape(id), in)
}

func (a *API) UpdateUserStatus(ctx context.Context, id, status string) (*User, error) {
	return a.userCall(ctx, http.MethodPut, "users/"+url.PathEscape(id)+"/status", map[string]string{"status": status})
}

func (a *API) UpdateUserRole(ctx context.Context, id, role string) (*User, error) {
	return a.userCall(ctx, http.MethodPut, "users/"+url.PathEscape(id)+"/role", map[string]string{"role": role})
}

func (a *API) userCall(ctx context.Context, method, path string, in any) (*User, error) {
	var out envelope[User]
	if err := a.c.DoJSON(ctx, method, path, in, &out); err != nil {
		return nil, err
	}
	return &out.Data, nil
}

func (a *API) ListRoles(ctx context.Context) ([]Role, error) {
	var out envelope[[]Role]
	if err := a.c.DoJSON(ctx, http.MethodGet, "roles", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (a *API) CreateRole(ctx context.Context, in Role) (*Role, error) {
	var out Role
	if err := a.c.DoJSON(ctx, http.MethodPost, "roles", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdateRole(ctx context.Context, id string, in Role) (*Role, error) {
	var out Role
	if err := a.c.DoJSON(ctx, http.MethodPut, "roles/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeleteRole(ctx context.Context, id string) error {
	return a.c.DoJSON(ctx, http.MethodDelete, "roles/"+url.PathEscape(id), nil, nil)
}

func (a *API) ListPermissions(ctx context.Context) ([]Permission, error) {
	var out envelope[[]Permission]
	if err := a.c.DoJSON(ctx, http.MethodGet, "roles/permissions", nil, &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (a *API) CreatePermission(ctx context.Context, in Permission) (*Permission, error) {
	var out Permission
	if err := a.c.DoJSON(ctx, http.MethodPost, "roles/permissions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) UpdatePermission(ctx context.Context, id string, in Permission) (*Permission, error) {
	var out Permission
	if err := a.c.DoJSON(ctx, http.MethodPut, "roles/permissions/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *API) DeletePermission(ctx context.Context, id string) error {
	return a.c.DoJSON(ctx, http.MethodDelete, "roles/permissions/"+url.PathEscape(id), nil, nil)
}

func isNotFound(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound
}
