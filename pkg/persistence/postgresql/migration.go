package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_definitions table
			CREATE TABLE workflow_definitions (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				document_type VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				active BOOLEAN NOT NULL DEFAULT true,
				is_default BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_definitions_tenant ON workflow_definitions(tenant_id);
			CREATE INDEX idx_workflow_definitions_document_type ON workflow_definitions(tenant_id, document_type);
			CREATE INDEX idx_workflow_definitions_deleted_at ON workflow_definitions(deleted_at);

			-- At most one default definition per (tenant, document type)
			CREATE UNIQUE INDEX idx_workflow_definitions_default
				ON workflow_definitions(tenant_id, document_type)
				WHERE is_default AND deleted_at IS NULL;

			-- Create workflow_statuses table
			CREATE TABLE workflow_statuses (
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				key VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL,
				color VARCHAR(50) NOT NULL DEFAULT '',
				is_initial BOOLEAN NOT NULL DEFAULT false,
				is_terminal BOOLEAN NOT NULL DEFAULT false,
				display_order INT NOT NULL DEFAULT 0,
				PRIMARY KEY (definition_id, key)
			);

			-- Create workflow_transitions table
			CREATE TABLE workflow_transitions (
				definition_id UUID NOT NULL REFERENCES workflow_definitions(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				from_status_key VARCHAR(255) NOT NULL,
				to_status_key VARCHAR(255) NOT NULL,
				label VARCHAR(255) NOT NULL,
				allowed_roles JSONB NOT NULL DEFAULT '[]',
				requires_approval BOOLEAN NOT NULL DEFAULT false,
				approval_type VARCHAR(50) NOT NULL DEFAULT '',
				approver_roles JSONB NOT NULL DEFAULT '[]',
				display_order INT NOT NULL DEFAULT 0,
				PRIMARY KEY (definition_id, id)
			);

			CREATE INDEX idx_workflow_transitions_from ON workflow_transitions(definition_id, from_status_key);

			-- Create workflow_instances table
			CREATE TABLE workflow_instances (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				document_type VARCHAR(255) NOT NULL,
				document_id BIGINT NOT NULL,
				workflow_definition_id UUID NOT NULL REFERENCES workflow_definitions(id),
				current_status_key VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				UNIQUE (tenant_id, document_type, document_id)
			);

			CREATE INDEX idx_workflow_instances_tenant ON workflow_instances(tenant_id);
			CREATE INDEX idx_workflow_instances_definition ON workflow_instances(workflow_definition_id);

			-- Create workflow_history table (append-only)
			CREATE TABLE workflow_history (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				from_status_key VARCHAR(255),
				to_status_key VARCHAR(255) NOT NULL,
				actor_id VARCHAR(255) NOT NULL,
				comment TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_history_instance ON workflow_history(instance_id, created_at);

			-- History rows are immutable once written
			CREATE FUNCTION reject_history_mutation() RETURNS trigger AS $fn$
			BEGIN
				RAISE EXCEPTION 'workflow_history is append-only';
			END;
			$fn$ LANGUAGE plpgsql;

			CREATE TRIGGER workflow_history_immutable
				BEFORE UPDATE OR DELETE ON workflow_history
				FOR EACH ROW EXECUTE FUNCTION reject_history_mutation();

			-- Create workflow_approvals table
			CREATE TABLE workflow_approvals (
				id UUID PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL,
				instance_id UUID NOT NULL REFERENCES workflow_instances(id) ON DELETE CASCADE,
				transition_id VARCHAR(255) NOT NULL,
				batch_id UUID NOT NULL,
				sequence INT NOT NULL DEFAULT 0,
				approver_role VARCHAR(255) NOT NULL,
				approver_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'approved', 'rejected', 'skipped')),
				comment TEXT NOT NULL DEFAULT '',
				responded_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_approvals_instance ON workflow_approvals(instance_id);
			CREATE INDEX idx_workflow_approvals_batch ON workflow_approvals(batch_id, sequence);
			CREATE INDEX idx_workflow_approvals_approver ON workflow_approvals(tenant_id, approver_id, status);
		`,
	}
}
