package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ThanhDoDuy/order-system-hani-FE/client"
)

type pageFlags struct {
	page   int
	limit  int
	filter client.Filter
}

func (p *pageFlags) bind(cmd *cobra.Command, withCategory bool) {
	cmd.Flags().IntVar(&p.page, "page", 1, "Page number")
	cmd.Flags().IntVar(&p.limit, "limit", 10, "Items per page")
	cmd.Flags().StringVar(&p.filter.Status, "status", "all", "Status filter")
	cmd.Flags().StringVar(&p.filter.Search, "search", "", "Search text")
	if withCategory {
		cmd.Flags().StringVar(&p.filter.Category, "category", "all", "Category filter")
	}
}

func (c *cli) ordersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "orders", Short: "Inspect orders"}

	var flags pageFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := c.api.ListOrders(cmd.Context(), flags.page, flags.limit, flags.filter)
			if err != nil {
				return err
			}
			return c.print(page)
		},
	}
	flags.bind(list, false)

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := c.api.GetOrder(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if order == nil {
				return fmt.Errorf("order %s not found", args[0])
			}
			return c.print(order)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func (c *cli) productsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "products", Short: "Inspect products"}

	var flags pageFlags
	list := &cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			page, err := c.api.ListProducts(cmd.Context(), flags.page, flags.limit, flags.filter)
			if err != nil {
				return err
			}
			return c.print(page)
		},
	}
	flags.bind(list, true)

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := c.api.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if product == nil {
				return fmt.Errorf("product %s not found", args[0])
			}
			return c.print(product)
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}

func (c *cli) categoriesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "categories", Short: "Inspect product categories"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			categories, err := c.api.ListCategories(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(categories)
		},
	})
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show dashboard statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := c.api.DashboardStats(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(stats)
		},
	}
}

func (c *cli) usersCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "users", Short: "Inspect dashboard users"}

	var page, limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := c.api.ListUsers(cmd.Context(), page, limit)
			if err != nil {
				return err
			}
			return c.print(users)
		},
	}
	list.Flags().IntVar(&page, "page", 1, "Page number")
	list.Flags().IntVar(&limit, "limit", 10, "Items per page")

	cmd.AddCommand(list)
	return cmd
}

func (c *cli) rolesCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "roles", Short: "Inspect roles"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List roles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			roles, err := c.api.ListRoles(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(roles)
		},
	})
	return cmd
}

func (c *cli) permissionsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "permissions", Short: "Inspect permissions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			permissions, err := c.api.ListPermissions(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(permissions)
		},
	})
	return cmd
}
