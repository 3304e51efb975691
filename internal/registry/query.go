package registry

import (
	"fmt"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Market returns the registered info of id.
func (c *Contract) Market(id string) (domain.MarketInfo, error) {
	info, ok := c.state.Markets[id]
	if !ok {
		return domain.MarketInfo{}, fmt.Errorf("registry: market %s: %w", id, domain.ErrNotFound)
	}
	return info, nil
}

// Children returns the child ids of parent in append order.
func (c *Contract) Children(parent string) ([]string, error) {
	info, err := c.Market(parent)
	if err != nil {
		return nil, err
	}
	return append([]string{}, info.ChildMarkets...), nil
}

// Markets returns every registered market in registration order.
func (c *Contract) Markets() []domain.MarketInfo {
	out := make([]domain.MarketInfo, 0, len(c.state.Order))
	for _, id := range c.state.Order {
		out = append(out, c.state.Markets[id])
	}
	return out
}

// Tree returns root and its descendants. Each market appears once; a child
// already visited, or not registered, is skipped.
func (c *Contract) Tree(root string) (domain.MarketTree, error) {
	info, err := c.Market(root)
	if err != nil {
		return domain.MarketTree{}, err
	}
	visited := map[string]bool{root: true}
	return c.walk(info, visited), nil
}

func (c *Contract) walk(info domain.MarketInfo, visited map[string]bool) domain.MarketTree {
	node := domain.MarketTree{Market: info, Children: []domain.MarketTree{}}
	for _, id := range info.ChildMarkets {
		if visited[id] {
			continue
		}
		child, ok := c.state.Markets[id]
		if !ok {
			continue
		}
		visited[id] = true
		node.Children = append(node.Children, c.walk(child, visited))
	}
	return node
}
