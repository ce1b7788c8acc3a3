package stacks

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/smartdevs17/stacks-mempool-notifier/internal/models"
	"github.com/smartdevs17/stacks-mempool-notifier/pkg/utils"
)

const DefaultNodeURL = "https://stacks-node-api.mainnet.stacks.co"

// API is the subset of the Stacks extended API used by the monitor
type API interface {
	GetMempool(ctx context.Context, limit int) ([]*models.Transaction, error)
	GetTransaction(ctx context.Context, txID string) (*models.Transaction, error)
	TxURL(txID string) string
}

// Client talks to the Stacks extended API through a retrying fetcher
type Client struct {
	nodeURL     string
	explorerURL string
	fetcher     *Fetcher
}

// NewClient creates a Stacks API client. explorerURL overrides the link used in messages.
func NewClient(nodeURL, explorerURL string, fetcher *Fetcher) *Client {
	nodeURL = strings.TrimRight(nodeURL, "/")
	if nodeURL == "" {
		nodeURL = DefaultNodeURL
	}
	return &Client{
		nodeURL:     nodeURL,
		explorerURL: strings.TrimRight(explorerURL, "/"),
		fetcher:     fetcher,
	}
}

// NodeURL returns the base URL of the node
func (c *Client) NodeURL() string {
	return c.nodeURL
}

// GetMempool returns the newest mempool transactions, newest first
func (c *Client) GetMempool(ctx context.Context, limit int) ([]*models.Transaction, error) {
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", limit))
	query.Set("unanchored", "true")
	query.Set("order_by", "age")
	query.Set("order", "desc")

	var page models.MempoolPage
	if err := c.fetcher.GetJSON(ctx, "mempool", c.nodeURL+"/extended/v1/tx/mempool?"+query.Encode(), &page); err != nil {
		return nil, err
	}
	return page.Results, nil
}

// GetTransaction returns the current view of a single transaction
func (c *Client) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	txID = utils.NormalizeTxID(txID)
	if !utils.IsValidTxID(txID) {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "invalid transaction id", txID)
	}

	var tx models.Transaction
	if err := c.fetcher.GetJSON(ctx, "transaction", c.apiTxURL(txID), &tx); err != nil {
		return nil, err
	}
	if tx.TxID == "" {
		tx.TxID = txID
	}
	return &tx, nil
}

// TxURL returns the link used in notifications to follow a transaction
func (c *Client) TxURL(txID string) string {
	if c.explorerURL != "" {
		return fmt.Sprintf("%s/txid/%s", c.explorerURL, url.PathEscape(txID))
	}
	return c.apiTxURL(txID)
}

func (c *Client) apiTxURL(txID string) string {
	return fmt.Sprintf("%s/extended/v1/tx/%s", c.nodeURL, url.PathEscape(txID))
}
