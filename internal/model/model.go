// Package model содержит доменные сущности сервиса клиентов и заказов.
package model

// Order описывает заказ, принадлежащий ровно одному клиенту.
type Order struct {
	OrderNumber int64   `json:"orderNumber"`
	ProductName *string `json:"productName"`
}

// Customer описывает агрегат клиента вместе с его заказами.
// Порядок Orders сохраняется при чтении и записи.
type Customer struct {
	CustomerID int64   `json:"customerId"`
	Name       *string `json:"name"`
	Orders     []Order `json:"orders"`
}

// Clone возвращает глубокую копию клиента: заказы и строковые поля не разделяют память с оригиналом.
func (c Customer) Clone() Customer {
	out := Customer{
		CustomerID: c.CustomerID,
		Name:       cloneString(c.Name),
	}
	if c.Orders != nil {
		out.Orders = make([]Order, len(c.Orders))
		for i, o := range c.Orders {
			out.Orders[i] = Order{
				OrderNumber: o.OrderNumber,
				ProductName: cloneString(o.ProductName),
			}
		}
	}
	return out
}

// StringPtr возвращает указатель на копию строки.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
