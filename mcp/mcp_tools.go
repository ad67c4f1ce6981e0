package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/shopspring/decimal"

	core "taskblitz-backend/core/marketplace"
	"taskblitz-backend/services"
)

func toString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func toInt(v interface{}) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func jsonResult(prefix string, v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err))
	}
	return mcp.NewToolResultText(prefix + "\n\n" + string(data))
}

// registerListTasksTool creates a tool for listing tasks
func (s *MCPServer) registerListTasksTool() {
	tool := mcp.NewTool("list_tasks",
		mcp.WithDescription("List marketplace tasks with optional filtering"),
		mcp.WithString("status", mcp.Description("Filter by task status (open, completed, expired, cancelled, disputed)")),
		mcp.WithString("category", mcp.Description("Filter by task category")),
		mcp.WithString("requester_id", mcp.Description("Filter by requester")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of tasks to return")),
		mcp.WithNumber("offset", mcp.Description("Number of tasks to skip")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		filter := core.TaskFilter{
			Status:      core.TaskStatus(toString(args["status"])),
			Category:    toString(args["category"]),
			RequesterID: toString(args["requester_id"]),
			Limit:       toInt(args["limit"]),
			Offset:      toInt(args["offset"]),
		}

		tasks, err := s.store.ListTasks(ctx, filter)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list tasks: %v", err)), nil
		}
		return jsonResult(fmt.Sprintf("Found %d tasks:", len(tasks)), tasks), nil
	})
}

// registerGetTaskTool creates a tool for getting a specific task
func (s *MCPServer) registerGetTaskTool() {
	tool := mcp.NewTool("get_task",
		mcp.WithDescription("Get details of a specific task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to retrieve")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.store.GetTask(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get task: %v", err)), nil
		}
		return jsonResult("Task:", task), nil
	})
}

// registerCreateTaskTool creates a tool for posting a new task
func (s *MCPServer) registerCreateTaskTool() {
	tool := mcp.NewTool("create_task",
		mcp.WithDescription("Create a marketplace task. Escrow for payment plus fee is locked from the requester wallet up front."),
		mcp.WithString("requester_id", mcp.Required(), mcp.Description("Requester account ID")),
		mcp.WithString("requester_wallet", mcp.Required(), mcp.Description("Wallet escrow is drawn from")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Task title")),
		mcp.WithString("description", mcp.Description("Task description")),
		mcp.WithString("category", mcp.Description("Task category")),
		mcp.WithString("difficulty", mcp.Description("easy, medium, or hard")),
		mcp.WithString("payment_per_worker", mcp.Required(), mcp.Description("Decimal payment per completed worker slot")),
		mcp.WithNumber("workers_needed", mcp.Required(), mcp.Description("Number of worker slots")),
		mcp.WithBoolean("requires_approval", mcp.Description("Whether workers must apply before submitting")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		payment, err := decimal.NewFromString(toString(args["payment_per_worker"]))
		if err != nil {
			return mcp.NewToolResultError("payment_per_worker must be a decimal number"), nil
		}
		requiresApproval, _ := args["requires_approval"].(bool)

		task, err := s.lifecycle.CreateTask(ctx, services.CreateTaskRequest{
			RequesterID:      toString(args["requester_id"]),
			RequesterWallet:  toString(args["requester_wallet"]),
			Title:            toString(args["title"]),
			Description:      toString(args["description"]),
			Category:         toString(args["category"]),
			Difficulty:       toString(args["difficulty"]),
			PaymentPerWorker: payment,
			WorkersNeeded:    toInt(args["workers_needed"]),
			RequiresApproval: requiresApproval,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to create task: %v", err)), nil
		}
		return jsonResult("Created task:", task), nil
	})
}

// registerCancelTaskTool creates a tool for cancelling a task
func (s *MCPServer) registerCancelTaskTool() {
	tool := mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel an open task and refund its unspent escrow"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to cancel")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		task, err := s.lifecycle.CancelTask(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel task: %v", err)), nil
		}
		return jsonResult("Cancelled task:", task), nil
	})
}

// registerApplyToTaskTool creates a tool for filing a worker application
func (s *MCPServer) registerApplyToTaskTool() {
	tool := mcp.NewTool("apply_to_task",
		mcp.WithDescription("Apply to work on an approval-gated task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task to apply to")),
		mcp.WithString("worker_id", mcp.Required(), mcp.Description("Worker account ID")),
		mcp.WithString("message", mcp.Description("Application message")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		workerID, err := request.RequireString("worker_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		app, err := s.lifecycle.ApplyToTask(ctx, taskID, workerID, toString(request.GetArguments()["message"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to apply: %v", err)), nil
		}
		return jsonResult("Application filed:", app), nil
	})
}

// registerReviewApplicationTool creates a tool for reviewing an application
func (s *MCPServer) registerReviewApplicationTool() {
	tool := mcp.NewTool("review_application",
		mcp.WithDescription("Approve or reject a pending worker application"),
		mcp.WithString("application_id", mcp.Required(), mcp.Description("ID of application to review")),
		mcp.WithBoolean("approve", mcp.Required(), mcp.Description("true to approve, false to reject")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		applicationID, err := request.RequireString("application_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		approve, ok := request.GetArguments()["approve"].(bool)
		if !ok {
			return mcp.NewToolResultError("approve must be a boolean"), nil
		}

		if approve {
			err = s.lifecycle.ApproveApplication(ctx, applicationID)
		} else {
			err = s.lifecycle.RejectApplication(ctx, applicationID)
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to review application: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Application %s reviewed (approve=%v)", applicationID, approve)), nil
	})
}

// registerSubmitWorkTool creates a tool for submitting completed work
func (s *MCPServer) registerSubmitWorkTool() {
	tool := mcp.NewTool("submit_work",
		mcp.WithDescription("Submit completed work for an open task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task being worked")),
		mcp.WithString("worker_id", mcp.Required(), mcp.Description("Worker account ID")),
		mcp.WithString("worker_wallet", mcp.Required(), mcp.Description("Wallet that receives payment on approval")),
		mcp.WithString("payload", mcp.Description("The work product or a reference to it")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		workerID, err := request.RequireString("worker_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		wallet, err := request.RequireString("worker_wallet")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		sub, err := s.lifecycle.SubmitWork(ctx, taskID, workerID, wallet, toString(request.GetArguments()["payload"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to submit work: %v", err)), nil
		}
		return jsonResult("Submission filed:", sub), nil
	})
}

// registerListSubmissionsTool creates a tool for listing task submissions
func (s *MCPServer) registerListSubmissionsTool() {
	tool := mcp.NewTool("list_submissions",
		mcp.WithDescription("List submissions for a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		subs, err := s.store.ListSubmissions(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list submissions: %v", err)), nil
		}
		return jsonResult(fmt.Sprintf("Found %d submissions:", len(subs)), subs), nil
	})
}

// registerReviewSubmissionTool creates a tool for reviewing a submission
func (s *MCPServer) registerReviewSubmissionTool() {
	tool := mcp.NewTool("review_submission",
		mcp.WithDescription("Approve or reject a pending submission. Approval releases payment from escrow."),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of submission to review")),
		mcp.WithBoolean("approve", mcp.Required(), mcp.Description("true to approve and pay, false to reject")),
		mcp.WithString("reason", mcp.Description("Rejection reason, required when rejecting")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, err := request.RequireString("submission_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		args := request.GetArguments()
		approve, ok := args["approve"].(bool)
		if !ok {
			return mcp.NewToolResultError("approve must be a boolean"), nil
		}

		if approve {
			err = s.lifecycle.ApproveSubmission(ctx, submissionID)
		} else {
			err = s.lifecycle.RejectSubmission(ctx, submissionID, toString(args["reason"]))
		}
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to review submission: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Submission %s reviewed (approve=%v)", submissionID, approve)), nil
	})
}

// registerOpenDisputeTool creates a tool for contesting a rejection
func (s *MCPServer) registerOpenDisputeTool() {
	tool := mcp.NewTool("open_dispute",
		mcp.WithDescription("Contest a rejected submission. Only one dispute per submission is allowed."),
		mcp.WithString("submission_id", mcp.Required(), mcp.Description("ID of the rejected submission")),
		mcp.WithString("reason", mcp.Required(), mcp.Description("Why the rejection is contested")),
		mcp.WithString("evidence", mcp.Description("Supporting evidence")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		submissionID, err := request.RequireString("submission_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		reason, err := request.RequireString("reason")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		d, err := s.lifecycle.OpenDispute(ctx, submissionID, reason, toString(request.GetArguments()["evidence"]))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to open dispute: %v", err)), nil
		}
		return jsonResult("Dispute opened:", d), nil
	})
}

// registerResolveDisputeTool creates a tool for resolving a dispute
func (s *MCPServer) registerResolveDisputeTool() {
	tool := mcp.NewTool("resolve_dispute",
		mcp.WithDescription("Resolve an open dispute. resolved_worker pays the worker; resolved_requester and dismissed leave the rejection standing."),
		mcp.WithString("dispute_id", mcp.Required(), mcp.Description("ID of dispute to resolve")),
		mcp.WithString("outcome", mcp.Required(), mcp.Description("resolved_worker, resolved_requester, or dismissed")),
		mcp.WithString("notes", mcp.Description("Resolution notes")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		disputeID, err := request.RequireString("dispute_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		outcome, err := request.RequireString("outcome")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := s.lifecycle.ResolveDispute(ctx, disputeID, core.DisputeStatus(outcome), toString(request.GetArguments()["notes"])); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Dispute %s resolved: %s", disputeID, outcome)), nil
	})
}

// registerListTransactionsTool creates a tool for listing task settlements
func (s *MCPServer) registerListTransactionsTool() {
	tool := mcp.NewTool("list_transactions",
		mcp.WithDescription("List the settlement history (deposits, payments, fees, refunds) for a task"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("ID of task")),
	)

	s.mcpServer.AddTool(tool, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		txs, err := s.store.ListTransactions(ctx, taskID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to list transactions: %v", err)), nil
		}
		return jsonResult(fmt.Sprintf("Found %d transactions:", len(txs)), txs), nil
	})
}
