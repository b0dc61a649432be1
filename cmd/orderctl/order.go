package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/orders/internal/domain"
)

type orderView struct {
	ID          string          `json:"id" yaml:"id"`
	UserID      string          `json:"user_id" yaml:"user_id"`
	Status      string          `json:"status" yaml:"status"`
	Currency    string          `json:"currency" yaml:"currency"`
	Total       int64           `json:"total" yaml:"total"`
	Email       string          `json:"email,omitempty" yaml:"email,omitempty"`
	Version     int64           `json:"version" yaml:"version"`
	Payment     paymentView     `json:"payment" yaml:"payment"`
	Tracking    *trackingView   `json:"tracking,omitempty" yaml:"tracking,omitempty"`
	Items       []orderItemView `json:"items" yaml:"items"`
	CreatedAt   string          `json:"created_at" yaml:"created_at"`
	UpdatedAt   string          `json:"updated_at" yaml:"updated_at"`
	ShippedAt   string          `json:"shipped_at,omitempty" yaml:"shipped_at,omitempty"`
	DeliveredAt string          `json:"delivered_at,omitempty" yaml:"delivered_at,omitempty"`
	CancelledAt string          `json:"cancelled_at,omitempty" yaml:"cancelled_at,omitempty"`
}

type paymentView struct {
	Method            string `json:"method" yaml:"method"`
	Status            string `json:"status" yaml:"status"`
	GatewayOrderRef   string `json:"gateway_order_ref,omitempty" yaml:"gateway_order_ref,omitempty"`
	GatewayPaymentRef string `json:"gateway_payment_ref,omitempty" yaml:"gateway_payment_ref,omitempty"`
	ConfirmedVia      string `json:"confirmed_via,omitempty" yaml:"confirmed_via,omitempty"`
	PaidAt            string `json:"paid_at,omitempty" yaml:"paid_at,omitempty"`
}

type trackingView struct {
	Carrier    string `json:"carrier" yaml:"carrier"`
	TrackingID string `json:"tracking_id" yaml:"tracking_id"`
	URL        string `json:"url,omitempty" yaml:"url,omitempty"`
}

type orderItemView struct {
	ProductID string `json:"product_id" yaml:"product_id"`
	Name      string `json:"name" yaml:"name"`
	Quantity  int    `json:"quantity" yaml:"quantity"`
	UnitPrice int64  `json:"unit_price" yaml:"unit_price"`
	Total     int64  `json:"total" yaml:"total"`
}

func newOrderCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect orders",
	}
	var output string
	get := &cobra.Command{
		Use:   "get <order-id>",
		Short: "Print an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID := strings.TrimSpace(args[0])
			ctx := cmd.Context()
			container, err := a.openContainer(ctx)
			if err != nil {
				return err
			}
			defer container.Close(context.WithoutCancel(ctx))

			order, err := container.Services.Orders.Get(ctx, orderID)
			if err != nil {
				return fmt.Errorf("get order %s: %w", orderID, err)
			}
			view := newOrderView(order)
			switch strings.ToLower(output) {
			case "yaml", "yml", "":
				return writeYAML(cmd.OutOrStdout(), view)
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(view)
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	get.Flags().StringVarP(&output, "output", "o", "yaml", "output format: yaml or json")
	cmd.AddCommand(get)
	return cmd
}

func newOrderView(order domain.Order) orderView {
	view := orderView{
		ID:       order.ID,
		UserID:   order.UserID,
		Status:   string(order.Status),
		Currency: order.Currency,
		Total:    order.Total,
		Email:    order.Email,
		Version:  order.Version,
		Payment: paymentView{
			Method:            string(order.Payment.Method),
			Status:            string(order.Payment.Status),
			GatewayOrderRef:   order.Payment.GatewayOrderRef,
			GatewayPaymentRef: order.Payment.GatewayPaymentRef,
			ConfirmedVia:      string(order.Payment.ConfirmedVia),
			PaidAt:            formatTimePtr(order.Payment.PaidAt),
		},
		Items:       make([]orderItemView, 0, len(order.Items)),
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		ShippedAt:   formatTimePtr(order.ShippedAt),
		DeliveredAt: formatTimePtr(order.DeliveredAt),
		CancelledAt: formatTimePtr(order.CancelledAt),
	}
	if order.Tracking != nil {
		view.Tracking = &trackingView{
			Carrier:    order.Tracking.Carrier,
			TrackingID: order.Tracking.TrackingID,
			URL:        order.Tracking.URL,
		}
	}
	for _, item := range order.Items {
		view.Items = append(view.Items, orderItemView{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Total:     item.Total,
		})
	}
	return view
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
