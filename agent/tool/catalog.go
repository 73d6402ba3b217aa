package tool

import (
	"github.com/cloudwego/eino/schema"
)

const (
	ToolGetUser           = "get_user"
	ToolGetOrderByID      = "get_order_by_id"
	ToolGetCustomerOrders = "get_customer_orders"
	ToolCancelOrder       = "cancel_order"
	ToolUpdateUserContact = "update_user_contact"
	ToolGetUserInfo       = "get_user_info"
)

// strictArgs is appended to every declaration: arguments are decoded
// strictly, so the model must not send undeclared fields.
const strictArgs = " Arguments must be a JSON object with only the listed fields; any other field is rejected."

// catalog is the fixed capability menu exposed to the model.
var catalog = []*schema.ToolInfo{
	{
		Name: ToolGetUser,
		Desc: "Search for a customer by email, phone number, or username. Exact match only. Returns customer information if found." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"key": {
				Type:     schema.String,
				Desc:     "The field to search by",
				Enum:     []string{"email", "phone", "username"},
				Required: true,
			},
			"value": {Type: schema.String, Desc: "The value to search for", Required: true},
		}),
	},
	{
		Name: ToolGetOrderByID,
		Desc: "Look up a specific order by its order ID. Returns product, quantity, price, and status." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"order_id": {Type: schema.String, Desc: "The order ID: exactly 5 digits, e.g. \"13579\"", Required: true},
		}),
	},
	{
		Name: ToolGetCustomerOrders,
		Desc: "Get all orders for a customer by customer ID. Returns an empty list when the customer has no orders." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"customer_id": {Type: schema.String, Desc: "The customer ID: exactly 7 digits, e.g. \"1213210\"", Required: true},
		}),
	},
	{
		Name: ToolCancelOrder,
		Desc: "Cancel an order. Only orders with status 'Processing' can be cancelled; otherwise the current status is returned." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"order_id": {Type: schema.String, Desc: "The order ID to cancel: exactly 5 digits", Required: true},
		}),
	},
	{
		Name: ToolUpdateUserContact,
		Desc: "Update a customer's email and/or phone number. At least one of email or phone must be provided." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"customer_id": {Type: schema.String, Desc: "The customer ID: exactly 7 digits, e.g. \"1213210\"", Required: true},
			"email":       {Type: schema.String, Desc: "New email address, must be a valid address (optional; blank means unchanged)"},
			"phone":       {Type: schema.String, Desc: "New phone number, digits in XXX-XXX-XXXX format (optional; blank means unchanged)"},
		}),
	},
	{
		Name: ToolGetUserInfo,
		Desc: "Get a customer together with all of their orders in one call." + strictArgs,
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"key": {
				Type:     schema.String,
				Desc:     "The field to search by",
				Enum:     []string{"email", "phone", "username", "customer_id"},
				Required: true,
			},
			"value": {Type: schema.String, Desc: "The value to search for", Required: true},
		}),
	},
}

// Catalog returns the capability declarations. The slice is a copy; the
// declarations themselves must be treated as read-only.
func Catalog() []*schema.ToolInfo {
	out := make([]*schema.ToolInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Names returns the declared tool names in catalog order.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for _, info := range catalog {
		names = append(names, info.Name)
	}
	return names
}
